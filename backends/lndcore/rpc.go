// Package lndcore implements the canonical operations for every backend that
// speaks lnd's RPC surface. The lnd, lnc and embedded adapters only provide
// an RPC implementation for their transport.
package lndcore

import (
	"context"
	"fmt"

	"github.com/feelancer21/lnunify"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"google.golang.org/protobuf/proto"
)

// RPC is the subset of lnd's Lightning and Router services the canonical
// operations need. Streaming RPCs are reduced to what the operations use:
// SendPayment returns the final payment state, CloseChannel the first
// close_pending update.
type RPC interface {
	GetInfo(ctx context.Context) (*lnrpc.GetInfoResponse, error)
	WalletBalance(ctx context.Context) (*lnrpc.WalletBalanceResponse, error)
	ChannelBalance(ctx context.Context) (*lnrpc.ChannelBalanceResponse, error)
	ListChannels(ctx context.Context) (*lnrpc.ListChannelsResponse, error)
	PendingChannels(ctx context.Context) (*lnrpc.PendingChannelsResponse, error)
	ClosedChannels(ctx context.Context) (*lnrpc.ClosedChannelsResponse, error)
	GetTransactions(ctx context.Context) (*lnrpc.TransactionDetails, error)
	ListInvoices(ctx context.Context, req *lnrpc.ListInvoiceRequest) (*lnrpc.ListInvoiceResponse, error)
	ListPayments(ctx context.Context, req *lnrpc.ListPaymentsRequest) (*lnrpc.ListPaymentsResponse, error)
	AddInvoice(ctx context.Context, req *lnrpc.Invoice) (*lnrpc.AddInvoiceResponse, error)
	SendPayment(ctx context.Context, req *routerrpc.SendPaymentRequest) (*lnrpc.Payment, error)
	SendCoins(ctx context.Context, req *lnrpc.SendCoinsRequest) (*lnrpc.SendCoinsResponse, error)
	NewAddress(ctx context.Context, req *lnrpc.NewAddressRequest) (*lnrpc.NewAddressResponse, error)
	OpenChannel(ctx context.Context, req *lnrpc.OpenChannelRequest) (*lnrpc.ChannelPoint, error)
	CloseChannel(ctx context.Context, req *lnrpc.CloseChannelRequest) (*lnrpc.PendingUpdate, error)
	ConnectPeer(ctx context.Context, req *lnrpc.ConnectPeerRequest) error
	DecodePayReq(ctx context.Context, payReq string) (*lnrpc.PayReq, error)
	SignMessage(ctx context.Context, msg []byte) (*lnrpc.SignMessageResponse, error)
	VerifyMessage(ctx context.Context, msg []byte, signature string) (*lnrpc.VerifyMessageResponse, error)
	FeeReport(ctx context.Context) (*lnrpc.FeeReportResponse, error)
	UpdateChannelPolicy(ctx context.Context, req *lnrpc.PolicyUpdateRequest) (*lnrpc.PolicyUpdateResponse, error)
	ListUnspent(ctx context.Context, req *lnrpc.ListUnspentRequest) (*lnrpc.ListUnspentResponse, error)
	GetNodeInfo(ctx context.Context, pubkey string) (*lnrpc.NodeInfo, error)

	// SubscribeInvoices and SubscribeChannelEvents block and hand every
	// update to fn until fn returns false or ctx is done.
	SubscribeInvoices(ctx context.Context, fn func(*lnrpc.Invoice) bool) error
	SubscribeChannelEvents(ctx context.Context, fn func(*lnrpc.ChannelEventUpdate) bool) error
}

// Unary runs a unary RPC through cache. The fingerprint is the method name
// followed by the deterministic protobuf encoding of req, so concurrent
// identical calls share one round trip. A nil cache calls through.
func Unary[T any](ctx context.Context, cache *lnunify.RequestCache, method string,
	req proto.Message, call func(ctx context.Context) (T, error)) (T, error) {

	if cache == nil {
		return call(ctx)
	}

	var body []byte
	if req != nil {
		b, err := proto.MarshalOptions{Deterministic: true}.Marshal(req)
		if err != nil {
			var zero T
			return zero, fmt.Errorf("encoding %s request: %w", method, err)
		}
		body = b
	}
	fp, err := lnunify.NewFingerprint(method, body)
	if err != nil {
		var zero T
		return zero, err
	}
	return lnunify.Execute(ctx, cache, fp, call)
}
