package embedded

import (
	"context"
	"errors"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/backends/lndcore"
	"github.com/feelancer21/lnunify/transport/bridge"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"github.com/lightningnetwork/lnd/lnrpc/walletrpc"
	"google.golang.org/protobuf/proto"
)

// Method names the host registers for the embedded node. Sub-server methods
// carry their service as prefix.
const (
	methodGetInfo                = "GetInfo"
	methodWalletBalance          = "WalletBalance"
	methodChannelBalance         = "ChannelBalance"
	methodListChannels           = "ListChannels"
	methodPendingChannels        = "PendingChannels"
	methodClosedChannels         = "ClosedChannels"
	methodGetTransactions        = "GetTransactions"
	methodListInvoices           = "ListInvoices"
	methodListPayments           = "ListPayments"
	methodAddInvoice             = "AddInvoice"
	methodSendPayment            = "RouterSendPaymentV2"
	methodSendCoins              = "SendCoins"
	methodNewAddress             = "NewAddress"
	methodOpenChannel            = "OpenChannelSync"
	methodCloseChannel           = "CloseChannel"
	methodConnectPeer            = "ConnectPeer"
	methodDecodePayReq           = "DecodePayReq"
	methodSignMessage            = "SignMessage"
	methodVerifyMessage          = "VerifyMessage"
	methodFeeReport              = "FeeReport"
	methodUpdateChannelPolicy    = "UpdateChannelPolicy"
	methodListUnspent            = "WalletKitListUnspent"
	methodGetNodeInfo            = "GetNodeInfo"
	methodSubscribeInvoices      = "SubscribeInvoices"
	methodSubscribeChannelEvents = "SubscribeChannelEvents"
)

// bridgeRPC implements lndcore.RPC on the native bridge.
type bridgeRPC struct {
	b     bridge.Bridge
	cache *lnunify.RequestCache
}

// invoke performs a unary call through the cache. Errors reported by the
// host that are not classified yet are node errors.
func invoke[T proto.Message](ctx context.Context, r *bridgeRPC, method string, req proto.Message,
	newResp func() T) (T, error) {

	return lndcore.Unary(ctx, r.cache, method, req, func(ctx context.Context) (T, error) {
		resp := newResp()
		if err := bridge.Invoke(ctx, r.b, method, req, resp); err != nil {
			return resp, classify(err)
		}
		return resp, nil
	})
}

func classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, lnunify.ErrConnection), errors.Is(err, lnunify.ErrProtocol),
		errors.Is(err, lnunify.ErrBackend):
		return err
	default:
		return lnunify.NewBackendError(0, err.Error())
	}
}

func (r *bridgeRPC) GetInfo(ctx context.Context) (*lnrpc.GetInfoResponse, error) {
	return invoke(ctx, r, methodGetInfo, &lnrpc.GetInfoRequest{},
		func() *lnrpc.GetInfoResponse { return &lnrpc.GetInfoResponse{} })
}

func (r *bridgeRPC) WalletBalance(ctx context.Context) (*lnrpc.WalletBalanceResponse, error) {
	return invoke(ctx, r, methodWalletBalance, &lnrpc.WalletBalanceRequest{},
		func() *lnrpc.WalletBalanceResponse { return &lnrpc.WalletBalanceResponse{} })
}

func (r *bridgeRPC) ChannelBalance(ctx context.Context) (*lnrpc.ChannelBalanceResponse, error) {
	return invoke(ctx, r, methodChannelBalance, &lnrpc.ChannelBalanceRequest{},
		func() *lnrpc.ChannelBalanceResponse { return &lnrpc.ChannelBalanceResponse{} })
}

func (r *bridgeRPC) ListChannels(ctx context.Context) (*lnrpc.ListChannelsResponse, error) {
	return invoke(ctx, r, methodListChannels, &lnrpc.ListChannelsRequest{},
		func() *lnrpc.ListChannelsResponse { return &lnrpc.ListChannelsResponse{} })
}

func (r *bridgeRPC) PendingChannels(ctx context.Context) (*lnrpc.PendingChannelsResponse, error) {
	return invoke(ctx, r, methodPendingChannels, &lnrpc.PendingChannelsRequest{},
		func() *lnrpc.PendingChannelsResponse { return &lnrpc.PendingChannelsResponse{} })
}

func (r *bridgeRPC) ClosedChannels(ctx context.Context) (*lnrpc.ClosedChannelsResponse, error) {
	return invoke(ctx, r, methodClosedChannels, &lnrpc.ClosedChannelsRequest{},
		func() *lnrpc.ClosedChannelsResponse { return &lnrpc.ClosedChannelsResponse{} })
}

func (r *bridgeRPC) GetTransactions(ctx context.Context) (*lnrpc.TransactionDetails, error) {
	return invoke(ctx, r, methodGetTransactions, &lnrpc.GetTransactionsRequest{},
		func() *lnrpc.TransactionDetails { return &lnrpc.TransactionDetails{} })
}

func (r *bridgeRPC) ListInvoices(ctx context.Context, req *lnrpc.ListInvoiceRequest) (*lnrpc.ListInvoiceResponse, error) {
	return invoke(ctx, r, methodListInvoices, req,
		func() *lnrpc.ListInvoiceResponse { return &lnrpc.ListInvoiceResponse{} })
}

func (r *bridgeRPC) ListPayments(ctx context.Context, req *lnrpc.ListPaymentsRequest) (*lnrpc.ListPaymentsResponse, error) {
	return invoke(ctx, r, methodListPayments, req,
		func() *lnrpc.ListPaymentsResponse { return &lnrpc.ListPaymentsResponse{} })
}

func (r *bridgeRPC) AddInvoice(ctx context.Context, req *lnrpc.Invoice) (*lnrpc.AddInvoiceResponse, error) {
	return invoke(ctx, r, methodAddInvoice, req,
		func() *lnrpc.AddInvoiceResponse { return &lnrpc.AddInvoiceResponse{} })
}

// SendPayment takes the first streamed update. lndcore sends without in
// flight updates, so that is the final state.
func (r *bridgeRPC) SendPayment(ctx context.Context, req *routerrpc.SendPaymentRequest) (*lnrpc.Payment, error) {
	p, err := bridge.First(ctx, r.b, methodSendPayment, req,
		func() *lnrpc.Payment { return &lnrpc.Payment{} })
	if err != nil {
		return nil, classify(err)
	}
	return p, nil
}

func (r *bridgeRPC) SendCoins(ctx context.Context, req *lnrpc.SendCoinsRequest) (*lnrpc.SendCoinsResponse, error) {
	return invoke(ctx, r, methodSendCoins, req,
		func() *lnrpc.SendCoinsResponse { return &lnrpc.SendCoinsResponse{} })
}

func (r *bridgeRPC) NewAddress(ctx context.Context, req *lnrpc.NewAddressRequest) (*lnrpc.NewAddressResponse, error) {
	return invoke(ctx, r, methodNewAddress, req,
		func() *lnrpc.NewAddressResponse { return &lnrpc.NewAddressResponse{} })
}

func (r *bridgeRPC) OpenChannel(ctx context.Context, req *lnrpc.OpenChannelRequest) (*lnrpc.ChannelPoint, error) {
	return invoke(ctx, r, methodOpenChannel, req,
		func() *lnrpc.ChannelPoint { return &lnrpc.ChannelPoint{} })
}

func (r *bridgeRPC) CloseChannel(ctx context.Context, req *lnrpc.CloseChannelRequest) (*lnrpc.PendingUpdate, error) {
	var upd *lnrpc.PendingUpdate
	err := bridge.Stream(ctx, r.b, methodCloseChannel, req,
		func() *lnrpc.CloseStatusUpdate { return &lnrpc.CloseStatusUpdate{} },
		func(s *lnrpc.CloseStatusUpdate) bool {
			switch {
			case s.GetClosePending() != nil:
				upd = s.GetClosePending()
			case s.GetChanClose() != nil:
				upd = &lnrpc.PendingUpdate{Txid: s.GetChanClose().GetClosingTxid()}
			default:
				return true
			}
			return false
		})
	if err != nil {
		return nil, classify(err)
	}
	if upd == nil {
		return nil, &lnunify.ProtocolError{Err: errors.New("close stream ended without an update")}
	}
	return upd, nil
}

func (r *bridgeRPC) ConnectPeer(ctx context.Context, req *lnrpc.ConnectPeerRequest) error {
	_, err := invoke(ctx, r, methodConnectPeer, req,
		func() *lnrpc.ConnectPeerResponse { return &lnrpc.ConnectPeerResponse{} })
	return err
}

func (r *bridgeRPC) DecodePayReq(ctx context.Context, payReq string) (*lnrpc.PayReq, error) {
	return invoke(ctx, r, methodDecodePayReq, &lnrpc.PayReqString{PayReq: payReq},
		func() *lnrpc.PayReq { return &lnrpc.PayReq{} })
}

func (r *bridgeRPC) SignMessage(ctx context.Context, msg []byte) (*lnrpc.SignMessageResponse, error) {
	return invoke(ctx, r, methodSignMessage, &lnrpc.SignMessageRequest{Msg: msg},
		func() *lnrpc.SignMessageResponse { return &lnrpc.SignMessageResponse{} })
}

func (r *bridgeRPC) VerifyMessage(ctx context.Context, msg []byte, signature string) (*lnrpc.VerifyMessageResponse, error) {
	req := &lnrpc.VerifyMessageRequest{Msg: msg, Signature: signature}
	return invoke(ctx, r, methodVerifyMessage, req,
		func() *lnrpc.VerifyMessageResponse { return &lnrpc.VerifyMessageResponse{} })
}

func (r *bridgeRPC) FeeReport(ctx context.Context) (*lnrpc.FeeReportResponse, error) {
	return invoke(ctx, r, methodFeeReport, &lnrpc.FeeReportRequest{},
		func() *lnrpc.FeeReportResponse { return &lnrpc.FeeReportResponse{} })
}

func (r *bridgeRPC) UpdateChannelPolicy(ctx context.Context, req *lnrpc.PolicyUpdateRequest) (*lnrpc.PolicyUpdateResponse, error) {
	return invoke(ctx, r, methodUpdateChannelPolicy, req,
		func() *lnrpc.PolicyUpdateResponse { return &lnrpc.PolicyUpdateResponse{} })
}

// ListUnspent goes through the wallet kit, the only unspent listing the
// embedded node registers.
func (r *bridgeRPC) ListUnspent(ctx context.Context, req *lnrpc.ListUnspentRequest) (*lnrpc.ListUnspentResponse, error) {
	wreq := &walletrpc.ListUnspentRequest{
		MinConfs: req.GetMinConfs(),
		MaxConfs: req.GetMaxConfs(),
		Account:  req.GetAccount(),
	}
	resp, err := invoke(ctx, r, methodListUnspent, wreq,
		func() *walletrpc.ListUnspentResponse { return &walletrpc.ListUnspentResponse{} })
	if err != nil {
		return nil, err
	}
	return &lnrpc.ListUnspentResponse{Utxos: resp.GetUtxos()}, nil
}

func (r *bridgeRPC) GetNodeInfo(ctx context.Context, pubkey string) (*lnrpc.NodeInfo, error) {
	return invoke(ctx, r, methodGetNodeInfo, &lnrpc.NodeInfoRequest{PubKey: pubkey},
		func() *lnrpc.NodeInfo { return &lnrpc.NodeInfo{} })
}

func (r *bridgeRPC) SubscribeInvoices(ctx context.Context, fn func(*lnrpc.Invoice) bool) error {
	err := bridge.Stream(ctx, r.b, methodSubscribeInvoices, &lnrpc.InvoiceSubscription{},
		func() *lnrpc.Invoice { return &lnrpc.Invoice{} }, fn)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (r *bridgeRPC) SubscribeChannelEvents(ctx context.Context, fn func(*lnrpc.ChannelEventUpdate) bool) error {
	err := bridge.Stream(ctx, r.b, methodSubscribeChannelEvents, &lnrpc.ChannelEventSubscription{},
		func() *lnrpc.ChannelEventUpdate { return &lnrpc.ChannelEventUpdate{} }, fn)
	if err != nil {
		return classify(err)
	}
	return nil
}

var _ lndcore.RPC = (*bridgeRPC)(nil)
