package lnc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/backends/lndcore"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// grpcRPC implements lndcore.RPC on lnd's gRPC services. Unary calls go
// through the adapter's request cache, streams do not.
type grpcRPC struct {
	target string
	ln     lnrpc.LightningClient
	router routerrpc.RouterClient
	cache  *lnunify.RequestCache
}

// convertErr maps gRPC status errors onto the error taxonomy.
func (r *grpcRPC) convertErr(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable:
		return &lnunify.ConnectionError{Target: r.target, Err: err}
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", lnunify.ErrRequestTimeout, st.Message())
	case codes.Canceled:
		return context.Canceled
	default:
		return lnunify.NewBackendError(int(st.Code()), st.Message())
	}
}

func unary[T any](ctx context.Context, r *grpcRPC, method string, req proto.Message,
	call func(ctx context.Context) (T, error)) (T, error) {

	return lndcore.Unary(ctx, r.cache, method, req, func(ctx context.Context) (T, error) {
		resp, err := call(ctx)
		return resp, r.convertErr(err)
	})
}

func (r *grpcRPC) GetInfo(ctx context.Context) (*lnrpc.GetInfoResponse, error) {
	req := &lnrpc.GetInfoRequest{}
	return unary(ctx, r, "GetInfo", req, func(ctx context.Context) (*lnrpc.GetInfoResponse, error) {
		return r.ln.GetInfo(ctx, req)
	})
}

func (r *grpcRPC) WalletBalance(ctx context.Context) (*lnrpc.WalletBalanceResponse, error) {
	req := &lnrpc.WalletBalanceRequest{}
	return unary(ctx, r, "WalletBalance", req, func(ctx context.Context) (*lnrpc.WalletBalanceResponse, error) {
		return r.ln.WalletBalance(ctx, req)
	})
}

func (r *grpcRPC) ChannelBalance(ctx context.Context) (*lnrpc.ChannelBalanceResponse, error) {
	req := &lnrpc.ChannelBalanceRequest{}
	return unary(ctx, r, "ChannelBalance", req, func(ctx context.Context) (*lnrpc.ChannelBalanceResponse, error) {
		return r.ln.ChannelBalance(ctx, req)
	})
}

func (r *grpcRPC) ListChannels(ctx context.Context) (*lnrpc.ListChannelsResponse, error) {
	req := &lnrpc.ListChannelsRequest{}
	return unary(ctx, r, "ListChannels", req, func(ctx context.Context) (*lnrpc.ListChannelsResponse, error) {
		return r.ln.ListChannels(ctx, req)
	})
}

func (r *grpcRPC) PendingChannels(ctx context.Context) (*lnrpc.PendingChannelsResponse, error) {
	req := &lnrpc.PendingChannelsRequest{}
	return unary(ctx, r, "PendingChannels", req, func(ctx context.Context) (*lnrpc.PendingChannelsResponse, error) {
		return r.ln.PendingChannels(ctx, req)
	})
}

func (r *grpcRPC) ClosedChannels(ctx context.Context) (*lnrpc.ClosedChannelsResponse, error) {
	req := &lnrpc.ClosedChannelsRequest{}
	return unary(ctx, r, "ClosedChannels", req, func(ctx context.Context) (*lnrpc.ClosedChannelsResponse, error) {
		return r.ln.ClosedChannels(ctx, req)
	})
}

func (r *grpcRPC) GetTransactions(ctx context.Context) (*lnrpc.TransactionDetails, error) {
	req := &lnrpc.GetTransactionsRequest{}
	return unary(ctx, r, "GetTransactions", req, func(ctx context.Context) (*lnrpc.TransactionDetails, error) {
		return r.ln.GetTransactions(ctx, req)
	})
}

func (r *grpcRPC) ListInvoices(ctx context.Context, req *lnrpc.ListInvoiceRequest) (*lnrpc.ListInvoiceResponse, error) {
	return unary(ctx, r, "ListInvoices", req, func(ctx context.Context) (*lnrpc.ListInvoiceResponse, error) {
		return r.ln.ListInvoices(ctx, req)
	})
}

func (r *grpcRPC) ListPayments(ctx context.Context, req *lnrpc.ListPaymentsRequest) (*lnrpc.ListPaymentsResponse, error) {
	return unary(ctx, r, "ListPayments", req, func(ctx context.Context) (*lnrpc.ListPaymentsResponse, error) {
		return r.ln.ListPayments(ctx, req)
	})
}

func (r *grpcRPC) AddInvoice(ctx context.Context, req *lnrpc.Invoice) (*lnrpc.AddInvoiceResponse, error) {
	return unary(ctx, r, "AddInvoice", req, func(ctx context.Context) (*lnrpc.AddInvoiceResponse, error) {
		return r.ln.AddInvoice(ctx, req)
	})
}

// SendPayment follows SendPaymentV2 until the payment leaves the in flight
// state or the stream ends.
func (r *grpcRPC) SendPayment(ctx context.Context, req *routerrpc.SendPaymentRequest) (*lnrpc.Payment, error) {
	stream, err := r.router.SendPaymentV2(ctx, req)
	if err != nil {
		return nil, r.convertErr(err)
	}
	var last *lnrpc.Payment
	for {
		p, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if last == nil {
				return nil, &lnunify.ProtocolError{Err: errors.New("payment stream ended without an update")}
			}
			return last, nil
		}
		if err != nil {
			return nil, r.convertErr(err)
		}
		last = p
		switch p.GetStatus() {
		case lnrpc.Payment_SUCCEEDED, lnrpc.Payment_FAILED:
			return p, nil
		}
	}
}

func (r *grpcRPC) SendCoins(ctx context.Context, req *lnrpc.SendCoinsRequest) (*lnrpc.SendCoinsResponse, error) {
	return unary(ctx, r, "SendCoins", req, func(ctx context.Context) (*lnrpc.SendCoinsResponse, error) {
		return r.ln.SendCoins(ctx, req)
	})
}

func (r *grpcRPC) NewAddress(ctx context.Context, req *lnrpc.NewAddressRequest) (*lnrpc.NewAddressResponse, error) {
	return unary(ctx, r, "NewAddress", req, func(ctx context.Context) (*lnrpc.NewAddressResponse, error) {
		return r.ln.NewAddress(ctx, req)
	})
}

func (r *grpcRPC) OpenChannel(ctx context.Context, req *lnrpc.OpenChannelRequest) (*lnrpc.ChannelPoint, error) {
	return unary(ctx, r, "OpenChannelSync", req, func(ctx context.Context) (*lnrpc.ChannelPoint, error) {
		return r.ln.OpenChannelSync(ctx, req)
	})
}

// CloseChannel waits for the close transaction to be broadcast.
func (r *grpcRPC) CloseChannel(ctx context.Context, req *lnrpc.CloseChannelRequest) (*lnrpc.PendingUpdate, error) {
	stream, err := r.ln.CloseChannel(ctx, req)
	if err != nil {
		return nil, r.convertErr(err)
	}
	for {
		upd, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil, &lnunify.ProtocolError{Err: errors.New("close stream ended without an update")}
		}
		if err != nil {
			return nil, r.convertErr(err)
		}
		if p := upd.GetClosePending(); p != nil {
			return p, nil
		}
		if c := upd.GetChanClose(); c != nil {
			return &lnrpc.PendingUpdate{Txid: c.GetClosingTxid()}, nil
		}
	}
}

func (r *grpcRPC) ConnectPeer(ctx context.Context, req *lnrpc.ConnectPeerRequest) error {
	_, err := unary(ctx, r, "ConnectPeer", req, func(ctx context.Context) (*lnrpc.ConnectPeerResponse, error) {
		return r.ln.ConnectPeer(ctx, req)
	})
	return err
}

func (r *grpcRPC) DecodePayReq(ctx context.Context, payReq string) (*lnrpc.PayReq, error) {
	req := &lnrpc.PayReqString{PayReq: payReq}
	return unary(ctx, r, "DecodePayReq", req, func(ctx context.Context) (*lnrpc.PayReq, error) {
		return r.ln.DecodePayReq(ctx, req)
	})
}

func (r *grpcRPC) SignMessage(ctx context.Context, msg []byte) (*lnrpc.SignMessageResponse, error) {
	req := &lnrpc.SignMessageRequest{Msg: msg}
	return unary(ctx, r, "SignMessage", req, func(ctx context.Context) (*lnrpc.SignMessageResponse, error) {
		return r.ln.SignMessage(ctx, req)
	})
}

func (r *grpcRPC) VerifyMessage(ctx context.Context, msg []byte, signature string) (*lnrpc.VerifyMessageResponse, error) {
	req := &lnrpc.VerifyMessageRequest{Msg: msg, Signature: signature}
	return unary(ctx, r, "VerifyMessage", req, func(ctx context.Context) (*lnrpc.VerifyMessageResponse, error) {
		return r.ln.VerifyMessage(ctx, req)
	})
}

func (r *grpcRPC) FeeReport(ctx context.Context) (*lnrpc.FeeReportResponse, error) {
	req := &lnrpc.FeeReportRequest{}
	return unary(ctx, r, "FeeReport", req, func(ctx context.Context) (*lnrpc.FeeReportResponse, error) {
		return r.ln.FeeReport(ctx, req)
	})
}

func (r *grpcRPC) UpdateChannelPolicy(ctx context.Context, req *lnrpc.PolicyUpdateRequest) (*lnrpc.PolicyUpdateResponse, error) {
	return unary(ctx, r, "UpdateChannelPolicy", req, func(ctx context.Context) (*lnrpc.PolicyUpdateResponse, error) {
		return r.ln.UpdateChannelPolicy(ctx, req)
	})
}

func (r *grpcRPC) ListUnspent(ctx context.Context, req *lnrpc.ListUnspentRequest) (*lnrpc.ListUnspentResponse, error) {
	return unary(ctx, r, "ListUnspent", req, func(ctx context.Context) (*lnrpc.ListUnspentResponse, error) {
		return r.ln.ListUnspent(ctx, req)
	})
}

func (r *grpcRPC) GetNodeInfo(ctx context.Context, pubkey string) (*lnrpc.NodeInfo, error) {
	req := &lnrpc.NodeInfoRequest{PubKey: pubkey}
	return unary(ctx, r, "GetNodeInfo", req, func(ctx context.Context) (*lnrpc.NodeInfo, error) {
		return r.ln.GetNodeInfo(ctx, req)
	})
}

func (r *grpcRPC) SubscribeInvoices(ctx context.Context, fn func(*lnrpc.Invoice) bool) error {
	stream, err := r.ln.SubscribeInvoices(ctx, &lnrpc.InvoiceSubscription{})
	if err != nil {
		return r.convertErr(err)
	}
	return recvAll(ctx, r, stream.Recv, fn)
}

func (r *grpcRPC) SubscribeChannelEvents(ctx context.Context, fn func(*lnrpc.ChannelEventUpdate) bool) error {
	stream, err := r.ln.SubscribeChannelEvents(ctx, &lnrpc.ChannelEventSubscription{})
	if err != nil {
		return r.convertErr(err)
	}
	return recvAll(ctx, r, stream.Recv, fn)
}

// recvAll hands every streamed message to fn. The end of the stream and a
// cancelled ctx are a regular end.
func recvAll[T any](ctx context.Context, r *grpcRPC, recv func() (T, error), fn func(T) bool) error {
	for {
		msg, err := recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return r.convertErr(err)
		}
		if !fn(msg) {
			return nil
		}
	}
}

var _ lndcore.RPC = (*grpcRPC)(nil)
