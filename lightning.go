package lnunify

import "context"

// Adapter is the part every backend implements. The canonical operations
// are split into the small interfaces below, an adapter implements the ones
// its node supports and the Dispatcher reports the rest as unsupported.
type Adapter interface {
	// Kind returns the backend kind the adapter speaks.
	Kind() BackendKind

	// Connect establishes the transport and verifies the node is reachable.
	Connect(ctx context.Context) error

	// Close tears down sessions and cancels in-flight requests.
	Close() error

	// State returns the connection state.
	State() State

	// Capabilities returns the capability checks of the adapter. Checks
	// are evaluated on demand and never cached across node info changes.
	Capabilities() CapabilitySet

	// GetInfo returns the basic info of the connected node.
	GetInfo(ctx context.Context) (NodeInfo, error)
}

type BalanceGetter interface {
	GetBalance(ctx context.Context) (Balance, error)
}

type ChannelLister interface {
	ListChannels(ctx context.Context) ([]Channel, error)
}

// ClosedChannelLister lists channels whose funds are resolved on chain.
type ClosedChannelLister interface {
	ListClosedChannels(ctx context.Context) ([]Channel, error)
}

type TransactionLister interface {
	ListTransactions(ctx context.Context) ([]Transaction, error)
}

type InvoiceLister interface {
	ListInvoices(ctx context.Context, opts ListOptions) ([]Invoice, error)
}

type PaymentLister interface {
	ListPayments(ctx context.Context, opts ListOptions) ([]Payment, error)
}

type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (Invoice, error)
}

type InvoicePayer interface {
	PayInvoice(ctx context.Context, req PayInvoiceRequest) (Payment, error)
}

type KeysendSender interface {
	SendKeysend(ctx context.Context, req KeysendRequest) (Payment, error)
}

type OnchainSender interface {
	SendOnchain(ctx context.Context, req SendOnchainRequest) (SentOnchain, error)
}

type AddressGenerator interface {
	NewAddress(ctx context.Context, req NewAddressRequest) (NewAddress, error)
}

type ChannelOpener interface {
	OpenChannel(ctx context.Context, req OpenChannelRequest) (OpenedChannel, error)
}

type ChannelCloser interface {
	CloseChannel(ctx context.Context, req CloseChannelRequest) (ClosedChannel, error)
}

type PeerConnector interface {
	ConnectPeer(ctx context.Context, req ConnectPeerRequest) error
}

type PaymentRequestDecoder interface {
	DecodePaymentRequest(ctx context.Context, payReq string) (PayReq, error)
}

// MessageSigner signs a message with the node's identity key.
type MessageSigner interface {
	SignMessage(ctx context.Context, msg []byte) (SignedMessage, error)
}

type MessageVerifier interface {
	VerifyMessage(ctx context.Context, req VerifyMessageRequest) (VerifiedMessage, error)
}

type FeeGetter interface {
	GetFees(ctx context.Context) (FeeReport, error)
}

type FeeSetter interface {
	SetFees(ctx context.Context, req SetFeesRequest) error
}

type UTXOLister interface {
	ListUTXOs(ctx context.Context) ([]UTXO, error)
}

// OfferManager covers the BOLT12 offer operations.
type OfferManager interface {
	ListOffers(ctx context.Context) ([]Offer, error)
	CreateOffer(ctx context.Context, req CreateOfferRequest) (Offer, error)
	DisableOffer(ctx context.Context, offerID string) (Offer, error)
	FetchInvoice(ctx context.Context, req FetchInvoiceRequest) (FetchedInvoice, error)
}

type InvoiceSubscriber interface {
	SubscribeInvoices(ctx context.Context) (*Subscription[InvoiceUpdate], error)
}

type ChannelEventSubscriber interface {
	SubscribeChannelEvents(ctx context.Context) (*Subscription[ChannelEvent], error)
}

// AliasResolver looks up the alias of a remote node. It is used for best
// effort enrichment only.
type AliasResolver interface {
	GetAlias(ctx context.Context, pubkey string) (string, error)
}

// IsValidNetwork reports whether network is a bitcoin network name nodes
// report.
func IsValidNetwork(network string) bool {
	switch network {
	case "mainnet", "testnet", "testnet4", "signet", "simnet", "regtest":
		return true
	default:
		return false
	}
}
