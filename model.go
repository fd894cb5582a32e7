package lnunify

// Canonical records. Every *Sat field is in satoshis, every *Msat field in
// millisatoshis. Records are produced by the normalize package and treated
// as values afterwards.

type NodeInfo struct {
	Pubkey             string   `json:"pubkey"`
	Alias              string   `json:"alias"`
	Color              string   `json:"color,omitempty"`
	Version            string   `json:"version"`
	APIVersion         string   `json:"api_version,omitempty"`
	Network            string   `json:"network"`
	BlockHeight        uint32   `json:"block_height"`
	BlockHash          string   `json:"block_hash,omitempty"`
	SyncedToChain      bool     `json:"synced_to_chain"`
	SyncedToGraph      bool     `json:"synced_to_graph"`
	URIs               []string `json:"uris,omitempty"`
	NumActiveChannels  uint32   `json:"num_active_channels"`
	NumPendingChannels uint32   `json:"num_pending_channels"`
	NumPeers           uint32   `json:"num_peers"`
}

type OnchainBalance struct {
	TotalSat       int64 `json:"total_sat"`
	ConfirmedSat   int64 `json:"confirmed_sat"`
	UnconfirmedSat int64 `json:"unconfirmed_sat"`
	LockedSat      int64 `json:"locked_sat"`
}

type LightningBalance struct {
	LocalSat          int64 `json:"local_sat"`
	LocalMsat         int64 `json:"local_msat"`
	RemoteSat         int64 `json:"remote_sat"`
	RemoteMsat        int64 `json:"remote_msat"`
	PendingOpenSat    int64 `json:"pending_open_sat"`
	InactiveSat       int64 `json:"inactive_sat"`
	UnsettledLocalSat int64 `json:"unsettled_local_sat"`
}

// Balance combines the on-chain wallet and channel balances. Onchain is nil
// for backends without an on-chain wallet.
type Balance struct {
	Onchain   *OnchainBalance  `json:"onchain,omitempty"`
	Lightning LightningBalance `json:"lightning"`
}

type ChannelStatus string

const (
	ChannelOpen        ChannelStatus = "open"
	ChannelPendingOpen ChannelStatus = "pending_open"
	ChannelClosing     ChannelStatus = "closing"
	ChannelClosed      ChannelStatus = "closed"
)

type Channel struct {
	ChannelID        string        `json:"channel_id"`
	ShortChannelID   string        `json:"short_channel_id,omitempty"`
	ChannelPoint     string        `json:"channel_point,omitempty"`
	RemotePubkey     string        `json:"remote_pubkey"`
	Alias            string        `json:"alias,omitempty"`
	Status           ChannelStatus `json:"status"`
	State            string        `json:"state,omitempty"`
	Active           bool          `json:"active"`
	Private          bool          `json:"private"`
	Initiator        bool          `json:"initiator"`
	CapacitySat      int64         `json:"capacity_sat"`
	LocalSat         int64         `json:"local_sat"`
	LocalMsat        int64         `json:"local_msat"`
	RemoteSat        int64         `json:"remote_sat"`
	RemoteMsat       int64         `json:"remote_msat"`
	LocalReserveSat  int64         `json:"local_reserve_sat"`
	RemoteReserveSat int64         `json:"remote_reserve_sat"`
	TotalSentSat     int64         `json:"total_sent_sat"`
	TotalReceivedSat int64         `json:"total_received_sat"`
	NumUpdates       uint64        `json:"num_updates"`
	CSVDelay         uint32        `json:"csv_delay"`
	CloseAddress     string        `json:"close_address,omitempty"`
}

type InvoiceState string

const (
	InvoiceOpen     InvoiceState = "open"
	InvoiceSettled  InvoiceState = "settled"
	InvoiceCanceled InvoiceState = "canceled"
	InvoiceAccepted InvoiceState = "accepted"
	InvoiceExpired  InvoiceState = "expired"
)

type Invoice struct {
	PaymentHash    string       `json:"payment_hash"`
	Preimage       string       `json:"preimage,omitempty"`
	PaymentRequest string       `json:"payment_request,omitempty"`
	Bolt12         string       `json:"bolt12,omitempty"`
	Label          string       `json:"label,omitempty"`
	Memo           string       `json:"memo,omitempty"`
	ValueSat       int64        `json:"value_sat"`
	ValueMsat      int64        `json:"value_msat"`
	AmountPaidSat  int64        `json:"amount_paid_sat"`
	AmountPaidMsat int64        `json:"amount_paid_msat"`
	State          InvoiceState `json:"state"`
	CreatedAt      int64        `json:"created_at,omitempty"`
	SettledAt      int64        `json:"settled_at,omitempty"`
	ExpiresAt      int64        `json:"expires_at,omitempty"`
	IsKeysend      bool         `json:"is_keysend,omitempty"`
	IsAMP          bool         `json:"is_amp,omitempty"`
	Private        bool         `json:"private,omitempty"`
}

type PaymentStatus string

const (
	PaymentUnknown   PaymentStatus = "unknown"
	PaymentInFlight  PaymentStatus = "in_flight"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

type Payment struct {
	PaymentHash    string        `json:"payment_hash"`
	Preimage       string        `json:"preimage,omitempty"`
	PaymentRequest string        `json:"payment_request,omitempty"`
	Bolt12         string        `json:"bolt12,omitempty"`
	Destination    string        `json:"destination,omitempty"`
	Description    string        `json:"description,omitempty"`
	ValueSat       int64         `json:"value_sat"`
	ValueMsat      int64         `json:"value_msat"`
	FeeSat         int64         `json:"fee_sat"`
	FeeMsat        int64         `json:"fee_msat"`
	Status         PaymentStatus `json:"status"`
	FailureReason  string        `json:"failure_reason,omitempty"`
	CreatedAt      int64         `json:"created_at,omitempty"`
}

type Transaction struct {
	TxID             string   `json:"txid"`
	AmountSat        int64    `json:"amount_sat"`
	FeeSat           int64    `json:"fee_sat"`
	BlockHeight      int32    `json:"block_height"`
	BlockHash        string   `json:"block_hash,omitempty"`
	NumConfirmations int32    `json:"num_confirmations"`
	Timestamp        int64    `json:"timestamp"`
	DestAddresses    []string `json:"dest_addresses,omitempty"`
	Label            string   `json:"label,omitempty"`
}

type UTXO struct {
	Outpoint      string `json:"outpoint"`
	Address       string `json:"address"`
	AddressType   string `json:"address_type,omitempty"`
	AmountSat     int64  `json:"amount_sat"`
	Confirmations int64  `json:"confirmations"`
	Status        string `json:"status,omitempty"`
}

type PayReq struct {
	Destination     string `json:"destination"`
	PaymentHash     string `json:"payment_hash"`
	NumSat          int64  `json:"num_sat"`
	NumMsat         int64  `json:"num_msat"`
	Description     string `json:"description,omitempty"`
	DescriptionHash string `json:"description_hash,omitempty"`
	Timestamp       int64  `json:"timestamp"`
	Expiry          int64  `json:"expiry"`
	CLTVExpiry      int64  `json:"cltv_expiry"`
	FallbackAddr    string `json:"fallback_addr,omitempty"`
}

type ChannelFee struct {
	ChannelID    string `json:"channel_id,omitempty"`
	ChannelPoint string `json:"channel_point,omitempty"`
	BaseFeeMsat  int64  `json:"base_fee_msat"`
	FeeRatePPM   int64  `json:"fee_rate_ppm"`
}

type FeeReport struct {
	ChannelFees []ChannelFee `json:"channel_fees"`
	DayFeeSat   int64        `json:"day_fee_sat"`
	WeekFeeSat  int64        `json:"week_fee_sat"`
	MonthFeeSat int64        `json:"month_fee_sat"`
	TotalFeeSat int64        `json:"total_fee_sat"`
}

type Offer struct {
	ID          string `json:"id"`
	Bolt12      string `json:"bolt12"`
	Description string `json:"description,omitempty"`
	Label       string `json:"label,omitempty"`
	Active      bool   `json:"active"`
	SingleUse   bool   `json:"single_use"`
	Used        bool   `json:"used"`
}

type FetchedInvoice struct {
	Bolt12Invoice string            `json:"bolt12_invoice"`
	AmountMsat    int64             `json:"amount_msat"`
	Changes       map[string]string `json:"changes,omitempty"`
}

type SignedMessage struct {
	Signature string `json:"signature"`
}

type VerifiedMessage struct {
	Valid  bool   `json:"valid"`
	Pubkey string `json:"pubkey"`
}

type NewAddress struct {
	Address string `json:"address"`
}

type OpenedChannel struct {
	FundingTxID string `json:"funding_txid"`
	OutputIndex uint32 `json:"output_index"`
}

type ClosedChannel struct {
	ClosingTxID string `json:"closing_txid,omitempty"`
}

type SentOnchain struct {
	TxID string `json:"txid"`
}

// InvoiceUpdate is emitted by invoice subscriptions.
type InvoiceUpdate struct {
	Invoice Invoice `json:"invoice"`
}

type ChannelEventType string

const (
	ChannelEventOpen       ChannelEventType = "open"
	ChannelEventClosed     ChannelEventType = "closed"
	ChannelEventActive     ChannelEventType = "active"
	ChannelEventInactive   ChannelEventType = "inactive"
	ChannelEventPending    ChannelEventType = "pending_open"
	ChannelEventFullyReady ChannelEventType = "fully_resolved"
)

type ChannelEvent struct {
	Type         ChannelEventType `json:"type"`
	ChannelPoint string           `json:"channel_point,omitempty"`
	Channel      *Channel         `json:"channel,omitempty"`
}

// Requests.

type ListOptions struct {
	Limit int `json:"limit,omitempty"`
}

// DefaultListLimit is applied when ListOptions.Limit is zero.
const DefaultListLimit = 150

// EffectiveLimit returns the requested limit or DefaultListLimit.
func (o ListOptions) EffectiveLimit() int {
	if o.Limit <= 0 {
		return DefaultListLimit
	}
	return o.Limit
}

type CreateInvoiceRequest struct {
	ValueSat  int64  `json:"value_sat"`
	ValueMsat int64  `json:"value_msat,omitempty"`
	Memo      string `json:"memo,omitempty"`
	Expiry    int64  `json:"expiry,omitempty"`
	Private   bool   `json:"private,omitempty"`
	Preimage  string `json:"preimage,omitempty"`
	IsAMP     bool   `json:"is_amp,omitempty"`
}

// AmountMsat returns the invoice amount in millisatoshis, preferring the
// explicit msat value.
func (r CreateInvoiceRequest) AmountMsat() int64 {
	if r.ValueMsat != 0 {
		return r.ValueMsat
	}
	return r.ValueSat * 1000
}

type PayInvoiceRequest struct {
	PaymentRequest   string   `json:"payment_request"`
	AmountSat        int64    `json:"amount_sat,omitempty"`
	FeeLimitSat      int64    `json:"fee_limit_sat,omitempty"`
	TimeoutSeconds   int32    `json:"timeout_seconds,omitempty"`
	MaxParts         uint32   `json:"max_parts,omitempty"`
	AMP              bool     `json:"amp,omitempty"`
	OutgoingChanIDs  []uint64 `json:"outgoing_chan_ids,omitempty"`
	LastHopPubkey    string   `json:"last_hop_pubkey,omitempty"`
	AllowSelfPayment bool     `json:"allow_self_payment,omitempty"`
}

type KeysendRequest struct {
	Destination string            `json:"destination"`
	AmountSat   int64             `json:"amount_sat"`
	FeeLimitSat int64             `json:"fee_limit_sat,omitempty"`
	Message     string            `json:"message,omitempty"`
	Custom      map[uint64][]byte `json:"custom,omitempty"`
}

type SendOnchainRequest struct {
	Address     string   `json:"address"`
	AmountSat   int64    `json:"amount_sat"`
	SatPerVbyte uint64   `json:"sat_per_vbyte,omitempty"`
	SendAll     bool     `json:"send_all,omitempty"`
	Outpoints   []string `json:"outpoints,omitempty"`
	Label       string   `json:"label,omitempty"`
}

type OpenChannelRequest struct {
	NodePubkey    string   `json:"node_pubkey"`
	Host          string   `json:"host,omitempty"`
	LocalSat      int64    `json:"local_sat"`
	PushSat       int64    `json:"push_sat,omitempty"`
	SatPerVbyte   uint64   `json:"sat_per_vbyte,omitempty"`
	Private       bool     `json:"private,omitempty"`
	FundMax       bool     `json:"fund_max,omitempty"`
	Outpoints     []string `json:"outpoints,omitempty"`
	SimpleTaproot bool     `json:"simple_taproot,omitempty"`
}

type CloseChannelRequest struct {
	ChannelPoint string `json:"channel_point,omitempty"`
	ChannelID    string `json:"channel_id,omitempty"`
	Force        bool   `json:"force,omitempty"`
	SatPerVbyte  uint64 `json:"sat_per_vbyte,omitempty"`
	Address      string `json:"address,omitempty"`
}

type ConnectPeerRequest struct {
	Pubkey string `json:"pubkey"`
	Host   string `json:"host"`
	Perm   bool   `json:"perm,omitempty"`
}

type VerifyMessageRequest struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
	// Pubkey is optional. When set, the recovered key must match it.
	Pubkey string `json:"pubkey,omitempty"`
}

type SetFeesRequest struct {
	ChannelPoint       string `json:"channel_point,omitempty"`
	ChannelID          string `json:"channel_id,omitempty"`
	Global             bool   `json:"global,omitempty"`
	BaseFeeMsat        int64  `json:"base_fee_msat"`
	FeeRatePPM         int64  `json:"fee_rate_ppm"`
	TimeLockDelta      uint32 `json:"time_lock_delta,omitempty"`
	InboundBaseFeeMsat int32  `json:"inbound_base_fee_msat,omitempty"`
	InboundFeeRatePPM  int32  `json:"inbound_fee_rate_ppm,omitempty"`
}

type NewAddressRequest struct {
	// Type is "p2wkh", "np2wkh" or "p2tr". Empty selects the node default.
	Type string `json:"type,omitempty"`
}

type CreateOfferRequest struct {
	AmountMsat  int64  `json:"amount_msat,omitempty"`
	Description string `json:"description"`
	Label       string `json:"label,omitempty"`
	SingleUse   bool   `json:"single_use,omitempty"`
}

type FetchInvoiceRequest struct {
	Offer      string `json:"offer"`
	AmountMsat int64  `json:"amount_msat,omitempty"`
	PayerNote  string `json:"payer_note,omitempty"`
}
