package lnd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/backends/lndcore"
	"github.com/feelancer21/lnunify/transport"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

var (
	// lnd's REST proxy uses the proto field names.
	marshaler   = protojson.MarshalOptions{UseProtoNames: true}
	unmarshaler = protojson.UnmarshalOptions{DiscardUnknown: true}
)

// restRPC implements lndcore.RPC on lnd's REST proxy. Server streams are
// reached over websockets, except channel closes which stream line
// delimited JSON on the DELETE response.
type restRPC struct {
	rest     *transport.RESTClient
	ws       transport.WSConfig
	sessions *transport.Sessions
}

func decode(raw json.RawMessage, msg proto.Message) error {
	if err := unmarshaler.Unmarshal(raw, msg); err != nil {
		return &lnunify.ProtocolError{Body: raw, Err: fmt.Errorf("decoding %T: %w", msg, err)}
	}
	return nil
}

func encode(msg proto.Message) (json.RawMessage, error) {
	b, err := marshaler.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", msg, err)
	}
	return b, nil
}

func (r *restRPC) get(ctx context.Context, route string, resp proto.Message) error {
	raw, err := r.rest.Get(ctx, route)
	if err != nil {
		return err
	}
	return decode(raw, resp)
}

func (r *restRPC) post(ctx context.Context, route string, req, resp proto.Message) error {
	body, err := encode(req)
	if err != nil {
		return err
	}
	raw, err := r.rest.Post(ctx, route, body)
	if err != nil {
		return err
	}
	return decode(raw, resp)
}

func (r *restRPC) GetInfo(ctx context.Context) (*lnrpc.GetInfoResponse, error) {
	resp := &lnrpc.GetInfoResponse{}
	return resp, r.get(ctx, "/v1/getinfo", resp)
}

func (r *restRPC) WalletBalance(ctx context.Context) (*lnrpc.WalletBalanceResponse, error) {
	resp := &lnrpc.WalletBalanceResponse{}
	return resp, r.get(ctx, "/v1/balance/blockchain", resp)
}

func (r *restRPC) ChannelBalance(ctx context.Context) (*lnrpc.ChannelBalanceResponse, error) {
	resp := &lnrpc.ChannelBalanceResponse{}
	return resp, r.get(ctx, "/v1/balance/channels", resp)
}

func (r *restRPC) ListChannels(ctx context.Context) (*lnrpc.ListChannelsResponse, error) {
	resp := &lnrpc.ListChannelsResponse{}
	return resp, r.get(ctx, "/v1/channels", resp)
}

func (r *restRPC) PendingChannels(ctx context.Context) (*lnrpc.PendingChannelsResponse, error) {
	resp := &lnrpc.PendingChannelsResponse{}
	return resp, r.get(ctx, "/v1/channels/pending", resp)
}

func (r *restRPC) ClosedChannels(ctx context.Context) (*lnrpc.ClosedChannelsResponse, error) {
	resp := &lnrpc.ClosedChannelsResponse{}
	return resp, r.get(ctx, "/v1/channels/closed", resp)
}

func (r *restRPC) GetTransactions(ctx context.Context) (*lnrpc.TransactionDetails, error) {
	resp := &lnrpc.TransactionDetails{}
	return resp, r.get(ctx, "/v1/transactions", resp)
}

func (r *restRPC) ListInvoices(ctx context.Context, req *lnrpc.ListInvoiceRequest) (*lnrpc.ListInvoiceResponse, error) {
	q := url.Values{}
	q.Set("reversed", strconv.FormatBool(req.GetReversed()))
	q.Set("num_max_invoices", strconv.FormatUint(req.GetNumMaxInvoices(), 10))
	resp := &lnrpc.ListInvoiceResponse{}
	return resp, r.get(ctx, "/v1/invoices?"+q.Encode(), resp)
}

func (r *restRPC) ListPayments(ctx context.Context, req *lnrpc.ListPaymentsRequest) (*lnrpc.ListPaymentsResponse, error) {
	q := url.Values{}
	q.Set("include_incomplete", strconv.FormatBool(req.GetIncludeIncomplete()))
	q.Set("max_payments", strconv.FormatUint(req.GetMaxPayments(), 10))
	q.Set("reversed", strconv.FormatBool(req.GetReversed()))
	resp := &lnrpc.ListPaymentsResponse{}
	return resp, r.get(ctx, "/v1/payments?"+q.Encode(), resp)
}

func (r *restRPC) AddInvoice(ctx context.Context, req *lnrpc.Invoice) (*lnrpc.AddInvoiceResponse, error) {
	resp := &lnrpc.AddInvoiceResponse{}
	return resp, r.post(ctx, "/v1/invoices", req, resp)
}

// SendPayment drives /v2/router/send over a websocket and returns the last
// payment update before the node closes the stream.
func (r *restRPC) SendPayment(ctx context.Context, req *routerrpc.SendPaymentRequest) (*lnrpc.Payment, error) {
	body, err := encode(req)
	if err != nil {
		return nil, err
	}
	raw, err := transport.Collect(ctx, r.rest.WebSocketURL("/v2/router/send?method=POST"), r.ws, body)
	if err != nil {
		return nil, err
	}
	resp := &lnrpc.Payment{}
	return resp, decode(raw, resp)
}

func (r *restRPC) SendCoins(ctx context.Context, req *lnrpc.SendCoinsRequest) (*lnrpc.SendCoinsResponse, error) {
	resp := &lnrpc.SendCoinsResponse{}
	return resp, r.post(ctx, "/v1/transactions", req, resp)
}

func (r *restRPC) NewAddress(ctx context.Context, req *lnrpc.NewAddressRequest) (*lnrpc.NewAddressResponse, error) {
	resp := &lnrpc.NewAddressResponse{}
	route := "/v1/newaddress?type=" + strconv.Itoa(int(req.GetType()))
	return resp, r.get(ctx, route, resp)
}

func (r *restRPC) OpenChannel(ctx context.Context, req *lnrpc.OpenChannelRequest) (*lnrpc.ChannelPoint, error) {
	resp := &lnrpc.ChannelPoint{}
	return resp, r.post(ctx, "/v1/channels", req, resp)
}

// CloseChannel reads the DELETE stream up to the first pending or final
// update.
func (r *restRPC) CloseChannel(ctx context.Context, req *lnrpc.CloseChannelRequest) (*lnrpc.PendingUpdate, error) {
	cp := req.GetChannelPoint()
	q := url.Values{}
	q.Set("force", strconv.FormatBool(req.GetForce()))
	if req.GetSatPerVbyte() > 0 {
		q.Set("sat_per_vbyte", strconv.FormatUint(req.GetSatPerVbyte(), 10))
	}
	if req.GetDeliveryAddress() != "" {
		q.Set("delivery_address", req.GetDeliveryAddress())
	}
	route := fmt.Sprintf("/v1/channels/%s/%d?%s", cp.GetFundingTxidStr(), cp.GetOutputIndex(), q.Encode())

	var (
		upd     *lnrpc.PendingUpdate
		lineErr error
	)
	err := r.rest.Stream(ctx, "DELETE", route, nil, func(line json.RawMessage) bool {
		raw, err := unwrapStream(line)
		if err != nil {
			lineErr = err
			return false
		}
		status := &lnrpc.CloseStatusUpdate{}
		if err := decode(raw, status); err != nil {
			lineErr = err
			return false
		}
		switch {
		case status.GetClosePending() != nil:
			upd = status.GetClosePending()
		case status.GetChanClose() != nil:
			upd = &lnrpc.PendingUpdate{Txid: status.GetChanClose().GetClosingTxid()}
		default:
			return true
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	if lineErr != nil {
		return nil, lineErr
	}
	if upd == nil {
		return nil, &lnunify.ProtocolError{Err: errors.New("close stream ended without an update")}
	}
	return upd, nil
}

// unwrapStream returns the result member of a streamed line, or the error
// member as a backend error.
func unwrapStream(line json.RawMessage) (json.RawMessage, error) {
	var env struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, &lnunify.ProtocolError{Body: line, Err: fmt.Errorf("decoding stream line: %w", err)}
	}
	if env.Error != nil {
		return nil, lnunify.NewBackendError(env.Error.Code, env.Error.Message)
	}
	if len(env.Result) == 0 {
		return line, nil
	}
	return env.Result, nil
}

func (r *restRPC) ConnectPeer(ctx context.Context, req *lnrpc.ConnectPeerRequest) error {
	return r.post(ctx, "/v1/peers", req, &lnrpc.ConnectPeerResponse{})
}

func (r *restRPC) DecodePayReq(ctx context.Context, payReq string) (*lnrpc.PayReq, error) {
	resp := &lnrpc.PayReq{}
	return resp, r.get(ctx, "/v1/payreq/"+url.PathEscape(payReq), resp)
}

func (r *restRPC) SignMessage(ctx context.Context, msg []byte) (*lnrpc.SignMessageResponse, error) {
	resp := &lnrpc.SignMessageResponse{}
	return resp, r.post(ctx, "/v1/signmessage", &lnrpc.SignMessageRequest{Msg: msg}, resp)
}

func (r *restRPC) VerifyMessage(ctx context.Context, msg []byte, signature string) (*lnrpc.VerifyMessageResponse, error) {
	resp := &lnrpc.VerifyMessageResponse{}
	req := &lnrpc.VerifyMessageRequest{Msg: msg, Signature: signature}
	return resp, r.post(ctx, "/v1/verifymessage", req, resp)
}

func (r *restRPC) FeeReport(ctx context.Context) (*lnrpc.FeeReportResponse, error) {
	resp := &lnrpc.FeeReportResponse{}
	return resp, r.get(ctx, "/v1/fees", resp)
}

func (r *restRPC) UpdateChannelPolicy(ctx context.Context, req *lnrpc.PolicyUpdateRequest) (*lnrpc.PolicyUpdateResponse, error) {
	resp := &lnrpc.PolicyUpdateResponse{}
	return resp, r.post(ctx, "/v1/chanpolicy", req, resp)
}

func (r *restRPC) ListUnspent(ctx context.Context, req *lnrpc.ListUnspentRequest) (*lnrpc.ListUnspentResponse, error) {
	q := url.Values{}
	q.Set("min_confs", strconv.Itoa(int(req.GetMinConfs())))
	q.Set("max_confs", strconv.Itoa(int(req.GetMaxConfs())))
	resp := &lnrpc.ListUnspentResponse{}
	return resp, r.get(ctx, "/v1/utxos?"+q.Encode(), resp)
}

func (r *restRPC) GetNodeInfo(ctx context.Context, pubkey string) (*lnrpc.NodeInfo, error) {
	resp := &lnrpc.NodeInfo{}
	return resp, r.get(ctx, "/v1/graph/node/"+url.PathEscape(pubkey), resp)
}

func (r *restRPC) SubscribeInvoices(ctx context.Context, fn func(*lnrpc.Invoice) bool) error {
	return subscribe(ctx, r, "/v1/invoices/subscribe?method=GET", &lnrpc.InvoiceSubscription{},
		func() *lnrpc.Invoice { return &lnrpc.Invoice{} }, fn)
}

func (r *restRPC) SubscribeChannelEvents(ctx context.Context, fn func(*lnrpc.ChannelEventUpdate) bool) error {
	return subscribe(ctx, r, "/v1/channels/subscribe?method=GET", &lnrpc.ChannelEventSubscription{},
		func() *lnrpc.ChannelEventUpdate { return &lnrpc.ChannelEventUpdate{} }, fn)
}

// subscribe keeps a websocket open and decodes every message with newMsg
// until fn returns false, the node closes the stream or ctx is done. The
// session is tracked so closing the adapter ends it.
func subscribe[T proto.Message](ctx context.Context, r *restRPC, route string, req proto.Message,
	newMsg func() T, fn func(T) bool) error {

	body, err := encode(req)
	if err != nil {
		return err
	}
	s, err := transport.DialSession(ctx, r.rest.WebSocketURL(route), r.ws)
	if err != nil {
		return err
	}
	untrack := r.sessions.Track(s)
	defer func() {
		untrack()
		s.Close()
	}()

	if err := s.Send(ctx, body); err != nil {
		return err
	}
	for {
		raw, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		msg := newMsg()
		if err := decode(raw, msg); err != nil {
			return err
		}
		if !fn(msg) {
			return nil
		}
	}
}

var _ lndcore.RPC = (*restRPC)(nil)
