package lnunify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Operation names a canonical operation.
type Operation string

const (
	OpGetInfo                Operation = "getInfo"
	OpGetBalance             Operation = "getBalance"
	OpListChannels           Operation = "listChannels"
	OpListClosedChannels     Operation = "listClosedChannels"
	OpListTransactions       Operation = "listTransactions"
	OpListInvoices           Operation = "listInvoices"
	OpListPayments           Operation = "listPayments"
	OpCreateInvoice          Operation = "createInvoice"
	OpPayInvoice             Operation = "payInvoice"
	OpSendKeysend            Operation = "sendKeysend"
	OpSendOnchain            Operation = "sendOnchain"
	OpNewAddress             Operation = "newAddress"
	OpOpenChannel            Operation = "openChannel"
	OpCloseChannel           Operation = "closeChannel"
	OpConnectPeer            Operation = "connectPeer"
	OpDecodePaymentRequest   Operation = "decodePaymentRequest"
	OpSignMessage            Operation = "signMessage"
	OpVerifyMessage          Operation = "verifyMessage"
	OpGetFees                Operation = "getFees"
	OpSetFees                Operation = "setFees"
	OpListUTXOs              Operation = "listUtxos"
	OpListOffers             Operation = "listOffers"
	OpCreateOffer            Operation = "createOffer"
	OpDisableOffer           Operation = "disableOffer"
	OpFetchInvoice           Operation = "fetchInvoice"
	OpSubscribeInvoices      Operation = "subscribeInvoices"
	OpSubscribeChannelEvents Operation = "subscribeChannelEvents"
)

// opCapability maps operations to the capability that gates them.
var opCapability = map[Operation]Capability{
	OpListClosedChannels:     CapClosedChannels,
	OpPayInvoice:             CapLightningSends,
	OpSendKeysend:            CapKeysend,
	OpSendOnchain:            CapOnchainSends,
	OpNewAddress:             CapOnchainReceiving,
	OpOpenChannel:            CapChannelManagement,
	OpCloseChannel:           CapChannelManagement,
	OpSignMessage:            CapMessageSigning,
	OpVerifyMessage:          CapMessageSigning,
	OpSetFees:                CapRouting,
	OpListOffers:             CapOffers,
	OpCreateOffer:            CapOffers,
	OpDisableOffer:           CapOffers,
	OpFetchInvoice:           CapOffers,
	OpSubscribeInvoices:      CapSubscriptions,
	OpSubscribeChannelEvents: CapSubscriptions,
}

func implements[I any](a Adapter) bool {
	_, ok := a.(I)
	return ok
}

var opImplemented = map[Operation]func(Adapter) bool{
	OpGetInfo:                implements[Adapter],
	OpGetBalance:             implements[BalanceGetter],
	OpListChannels:           implements[ChannelLister],
	OpListClosedChannels:     implements[ClosedChannelLister],
	OpListTransactions:       implements[TransactionLister],
	OpListInvoices:           implements[InvoiceLister],
	OpListPayments:           implements[PaymentLister],
	OpCreateInvoice:          implements[InvoiceCreator],
	OpPayInvoice:             implements[InvoicePayer],
	OpSendKeysend:            implements[KeysendSender],
	OpSendOnchain:            implements[OnchainSender],
	OpNewAddress:             implements[AddressGenerator],
	OpOpenChannel:            implements[ChannelOpener],
	OpCloseChannel:           implements[ChannelCloser],
	OpConnectPeer:            implements[PeerConnector],
	OpDecodePaymentRequest:   implements[PaymentRequestDecoder],
	OpSignMessage:            implements[MessageSigner],
	OpVerifyMessage:          implements[MessageVerifier],
	OpGetFees:                implements[FeeGetter],
	OpSetFees:                implements[FeeSetter],
	OpListUTXOs:              implements[UTXOLister],
	OpListOffers:             implements[OfferManager],
	OpCreateOffer:            implements[OfferManager],
	OpDisableOffer:           implements[OfferManager],
	OpFetchInvoice:           implements[OfferManager],
	OpSubscribeInvoices:      implements[InvoiceSubscriber],
	OpSubscribeChannelEvents: implements[ChannelEventSubscriber],
}

type opHandler func(ctx context.Context, d *Dispatcher, args json.RawMessage) (any, error)

// opHandlers is the table used by Call. Subscriptions are not callable by
// name since they return a stream.
var opHandlers map[Operation]opHandler

func init() {
	opHandlers = map[Operation]opHandler{
		OpGetInfo: noArgs(func(ctx context.Context, d *Dispatcher) (any, error) {
			return result(d.GetInfo(ctx))
		}),
		OpGetBalance: noArgs(func(ctx context.Context, d *Dispatcher) (any, error) {
			return result(d.GetBalance(ctx))
		}),
		OpListChannels: noArgs(func(ctx context.Context, d *Dispatcher) (any, error) {
			return result(d.ListChannels(ctx))
		}),
		OpListClosedChannels: noArgs(func(ctx context.Context, d *Dispatcher) (any, error) {
			return result(d.ListClosedChannels(ctx))
		}),
		OpListTransactions: noArgs(func(ctx context.Context, d *Dispatcher) (any, error) {
			return result(d.ListTransactions(ctx))
		}),
		OpListInvoices: withArgs(func(ctx context.Context, d *Dispatcher, o ListOptions) (any, error) {
			return result(d.ListInvoices(ctx, o))
		}),
		OpListPayments: withArgs(func(ctx context.Context, d *Dispatcher, o ListOptions) (any, error) {
			return result(d.ListPayments(ctx, o))
		}),
		OpCreateInvoice: withArgs(func(ctx context.Context, d *Dispatcher, r CreateInvoiceRequest) (any, error) {
			return result(d.CreateInvoice(ctx, r))
		}),
		OpPayInvoice: withArgs(func(ctx context.Context, d *Dispatcher, r PayInvoiceRequest) (any, error) {
			return result(d.PayInvoice(ctx, r))
		}),
		OpSendKeysend: withArgs(func(ctx context.Context, d *Dispatcher, r KeysendRequest) (any, error) {
			return result(d.SendKeysend(ctx, r))
		}),
		OpSendOnchain: withArgs(func(ctx context.Context, d *Dispatcher, r SendOnchainRequest) (any, error) {
			return result(d.SendOnchain(ctx, r))
		}),
		OpNewAddress: withArgs(func(ctx context.Context, d *Dispatcher, r NewAddressRequest) (any, error) {
			return result(d.NewAddress(ctx, r))
		}),
		OpOpenChannel: withArgs(func(ctx context.Context, d *Dispatcher, r OpenChannelRequest) (any, error) {
			return result(d.OpenChannel(ctx, r))
		}),
		OpCloseChannel: withArgs(func(ctx context.Context, d *Dispatcher, r CloseChannelRequest) (any, error) {
			return result(d.CloseChannel(ctx, r))
		}),
		OpConnectPeer: withArgs(func(ctx context.Context, d *Dispatcher, r ConnectPeerRequest) (any, error) {
			return nil, d.ConnectPeer(ctx, r)
		}),
		OpDecodePaymentRequest: withArgs(func(ctx context.Context, d *Dispatcher, r struct {
			PaymentRequest string `json:"payment_request"`
		}) (any, error) {
			return result(d.DecodePaymentRequest(ctx, r.PaymentRequest))
		}),
		OpSignMessage: withArgs(func(ctx context.Context, d *Dispatcher, r struct {
			Message string `json:"message"`
		}) (any, error) {
			return result(d.SignMessage(ctx, []byte(r.Message)))
		}),
		OpVerifyMessage: withArgs(func(ctx context.Context, d *Dispatcher, r VerifyMessageRequest) (any, error) {
			return result(d.VerifyMessage(ctx, r))
		}),
		OpGetFees: noArgs(func(ctx context.Context, d *Dispatcher) (any, error) {
			return result(d.GetFees(ctx))
		}),
		OpSetFees: withArgs(func(ctx context.Context, d *Dispatcher, r SetFeesRequest) (any, error) {
			return nil, d.SetFees(ctx, r)
		}),
		OpListUTXOs: noArgs(func(ctx context.Context, d *Dispatcher) (any, error) {
			return result(d.ListUTXOs(ctx))
		}),
		OpListOffers: noArgs(func(ctx context.Context, d *Dispatcher) (any, error) {
			return result(d.ListOffers(ctx))
		}),
		OpCreateOffer: withArgs(func(ctx context.Context, d *Dispatcher, r CreateOfferRequest) (any, error) {
			return result(d.CreateOffer(ctx, r))
		}),
		OpDisableOffer: withArgs(func(ctx context.Context, d *Dispatcher, r struct {
			OfferID string `json:"offer_id"`
		}) (any, error) {
			return result(d.DisableOffer(ctx, r.OfferID))
		}),
		OpFetchInvoice: withArgs(func(ctx context.Context, d *Dispatcher, r FetchInvoiceRequest) (any, error) {
			return result(d.FetchInvoice(ctx, r))
		}),
	}
}

func result[T any](v T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return v, nil
}

func noArgs(fn func(ctx context.Context, d *Dispatcher) (any, error)) opHandler {
	return func(ctx context.Context, d *Dispatcher, _ json.RawMessage) (any, error) {
		return fn(ctx, d)
	}
}

func withArgs[A any](fn func(ctx context.Context, d *Dispatcher, args A) (any, error)) opHandler {
	return func(ctx context.Context, d *Dispatcher, raw json.RawMessage) (any, error) {
		var args A
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("decoding arguments: %w", err)
			}
		}
		return fn(ctx, d, args)
	}
}

// Call invokes op by name with JSON encoded arguments. An operation the
// active adapter does not implement yields an *UnsupportedError.
func (d *Dispatcher) Call(ctx context.Context, op Operation, args json.RawMessage) (any, error) {
	h, ok := opHandlers[op]
	if !ok {
		return nil, fmt.Errorf("unknown operation: %s", op)
	}
	return h(ctx, d, args)
}

// Operations lists the operations callable by name.
func Operations() []Operation {
	ops := make([]Operation, 0, len(opHandlers))
	for op := range opHandlers {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}
