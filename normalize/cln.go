package normalize

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/feelancer21/lnunify"
)

// Core Lightning renamed most amount fields over the years: "msatoshi"
// style integers became "_msat" strings with an "msat" suffix and later
// plain integers. The types below declare every historic name and the
// chains pick the first one a node sent.

type CLNAddress struct {
	Type    string `json:"type"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

type CLNGetinfo struct {
	ID                    string       `json:"id"`
	Alias                 string       `json:"alias"`
	Color                 string       `json:"color"`
	Version               string       `json:"version"`
	APIVersion            string       `json:"api_version"`
	Network               string       `json:"network"`
	Blockheight           uint32       `json:"blockheight"`
	NumPeers              uint32       `json:"num_peers"`
	NumActiveChannels     uint32       `json:"num_active_channels"`
	NumPendingChannels    uint32       `json:"num_pending_channels"`
	Address               []CLNAddress `json:"address"`
	FeesCollectedMsat     *Msat        `json:"fees_collected_msat"`
	MsatoshiFeesCollected *Msat        `json:"msatoshi_fees_collected"`
	WarningBitcoindSync   string       `json:"warning_bitcoind_sync"`
	WarningLightningdSync string       `json:"warning_lightningd_sync"`
}

// CLNNetwork maps Core Lightning network names to the canonical ones.
func CLNNetwork(n string) string {
	if n == "bitcoin" {
		return "mainnet"
	}
	return n
}

func CLNNodeInfo(r CLNGetinfo) lnunify.NodeInfo {
	info := lnunify.NodeInfo{
		Pubkey:             r.ID,
		Alias:              r.Alias,
		Color:              r.Color,
		Version:            r.Version,
		APIVersion:         r.APIVersion,
		Network:            CLNNetwork(r.Network),
		BlockHeight:        r.Blockheight,
		SyncedToChain:      r.WarningBitcoindSync == "" && r.WarningLightningdSync == "",
		SyncedToGraph:      r.WarningLightningdSync == "",
		NumActiveChannels:  r.NumActiveChannels,
		NumPendingChannels: r.NumPendingChannels,
		NumPeers:           r.NumPeers,
	}
	for _, a := range r.Address {
		if a.Address == "" {
			continue
		}
		info.URIs = append(info.URIs,
			r.ID+"@"+net.JoinHostPort(a.Address, strconv.Itoa(a.Port)))
	}
	return info
}

// CLNFeesCollected returns the lifetime routing fees in millisatoshis.
func CLNFeesCollected(r CLNGetinfo) int64 {
	v, _ := firstMsat(r, []Candidate[CLNGetinfo]{
		{Name: "fees_collected_msat", Get: func(r CLNGetinfo) *Msat { return r.FeesCollectedMsat }},
		{Name: "msatoshi_fees_collected", Get: func(r CLNGetinfo) *Msat { return r.MsatoshiFeesCollected }},
	})
	return v
}

type CLNChannelUpdates struct {
	Local struct {
		FeeBaseMsat *Msat `json:"fee_base_msat"`
		FeePPM      int64 `json:"fee_proportional_millionths"`
	} `json:"local"`
}

type CLNChannelAlias struct {
	Local  string `json:"local"`
	Remote string `json:"remote"`
}

// CLNChannel is an entry of listpeerchannels, or of the channels array of
// a legacy listpeers peer.
type CLNChannel struct {
	PeerID         string `json:"peer_id"`
	PeerConnected  bool   `json:"peer_connected"`
	State          string `json:"state"`
	ShortChannelID string `json:"short_channel_id"`
	ChannelID      string `json:"channel_id"`
	FundingTxID    string `json:"funding_txid"`
	FundingOutnum  *int   `json:"funding_outnum"`
	Private        bool   `json:"private"`
	Opener         string `json:"opener"`
	CloseToAddr    string `json:"close_to_addr"`

	ToUs         *Msat `json:"to_us"`
	ToUsMsat     *Msat `json:"to_us_msat"`
	MsatoshiToUs *Msat `json:"msatoshi_to_us"`
	LocalBalance *Msat `json:"local_balance"`

	Total         *Msat `json:"total"`
	TotalMsat     *Msat `json:"total_msat"`
	MsatoshiTotal *Msat `json:"msatoshi_total"`

	OurReserveMsat            *Msat `json:"our_reserve_msat"`
	OurChannelReserveSatoshis *Msat `json:"our_channel_reserve_satoshis"`
	TheirReserveMsat          *Msat `json:"their_reserve_msat"`
	TheirChannelReserveSats   *Msat `json:"their_channel_reserve_satoshis"`

	OutFulfilledMsat     *Msat `json:"out_fulfilled_msat"`
	OutMsatoshiFulfilled *Msat `json:"out_msatoshi_fulfilled"`
	InFulfilledMsat      *Msat `json:"in_fulfilled_msat"`
	InMsatoshiFulfilled  *Msat `json:"in_msatoshi_fulfilled"`

	InPaymentsOffered  uint64 `json:"in_payments_offered"`
	OutPaymentsOffered uint64 `json:"out_payments_offered"`
	OurToSelfDelay     uint32 `json:"our_to_self_delay"`

	FeeBaseMsat *Msat              `json:"fee_base_msat"`
	FeePPM      *int64             `json:"fee_proportional_millionths"`
	Updates     *CLNChannelUpdates `json:"updates"`
	Alias       *CLNChannelAlias   `json:"alias"`
}

// ToUsChain lists the historic names of the local balance in priority
// order. local_balance is in satoshis.
var ToUsChain = []Candidate[CLNChannel]{
	{Name: "to_us", Get: func(c CLNChannel) *Msat { return c.ToUs }},
	{Name: "to_us_msat", Get: func(c CLNChannel) *Msat { return c.ToUsMsat }},
	{Name: "msatoshi_to_us", Get: func(c CLNChannel) *Msat { return c.MsatoshiToUs }},
	{Name: "local_balance", Get: func(c CLNChannel) *Msat { return c.LocalBalance }, Sat: true},
}

// TotalChain lists the historic names of the channel capacity.
var TotalChain = []Candidate[CLNChannel]{
	{Name: "total", Get: func(c CLNChannel) *Msat { return c.Total }},
	{Name: "total_msat", Get: func(c CLNChannel) *Msat { return c.TotalMsat }},
	{Name: "msatoshi_total", Get: func(c CLNChannel) *Msat { return c.MsatoshiTotal }},
}

var (
	ourReserveChain = []Candidate[CLNChannel]{
		{Name: "our_reserve_msat", Get: func(c CLNChannel) *Msat { return c.OurReserveMsat }},
		{Name: "our_channel_reserve_satoshis", Get: func(c CLNChannel) *Msat { return c.OurChannelReserveSatoshis }, Sat: true},
	}
	theirReserveChain = []Candidate[CLNChannel]{
		{Name: "their_reserve_msat", Get: func(c CLNChannel) *Msat { return c.TheirReserveMsat }},
		{Name: "their_channel_reserve_satoshis", Get: func(c CLNChannel) *Msat { return c.TheirChannelReserveSats }, Sat: true},
	}
	outFulfilledChain = []Candidate[CLNChannel]{
		{Name: "out_fulfilled_msat", Get: func(c CLNChannel) *Msat { return c.OutFulfilledMsat }},
		{Name: "out_msatoshi_fulfilled", Get: func(c CLNChannel) *Msat { return c.OutMsatoshiFulfilled }},
	}
	inFulfilledChain = []Candidate[CLNChannel]{
		{Name: "in_fulfilled_msat", Get: func(c CLNChannel) *Msat { return c.InFulfilledMsat }},
		{Name: "in_msatoshi_fulfilled", Get: func(c CLNChannel) *Msat { return c.InMsatoshiFulfilled }},
	}
)

// ChainNames returns the field names of a fallback chain in priority order.
func ChainNames[T any](chain []Candidate[T]) []string {
	names := make([]string, len(chain))
	for i, f := range chain {
		names[i] = f.Name
	}
	return names
}

// CLNChannelStatus maps a channel state machine state to a status.
func CLNChannelStatus(state string) lnunify.ChannelStatus {
	switch state {
	case "CHANNELD_NORMAL":
		return lnunify.ChannelOpen
	case "OPENINGD", "CHANNELD_AWAITING_LOCKIN", "DUALOPEND_OPEN_INIT",
		"DUALOPEND_OPEN_COMMITTED", "DUALOPEND_OPEN_COMMIT_READY",
		"DUALOPEND_AWAITING_LOCKIN", "CHANNELD_AWAITING_SPLICE":
		return lnunify.ChannelPendingOpen
	case "ONCHAIN", "CLOSED":
		return lnunify.ChannelClosed
	default:
		return lnunify.ChannelClosing
	}
}

func CLNChannelRecord(c CLNChannel) lnunify.Channel {
	toUs, _ := firstMsat(c, ToUsChain)
	total, _ := firstMsat(c, TotalChain)
	ourReserve, _ := firstMsat(c, ourReserveChain)
	theirReserve, _ := firstMsat(c, theirReserveChain)
	sent, _ := firstMsat(c, outFulfilledChain)
	received, _ := firstMsat(c, inFulfilledChain)

	remote := total - toUs
	if remote < 0 {
		remote = 0
	}

	ch := lnunify.Channel{
		ChannelID:        c.ChannelID,
		ShortChannelID:   c.ShortChannelID,
		ChannelPoint:     c.FundingTxID,
		RemotePubkey:     c.PeerID,
		Status:           CLNChannelStatus(c.State),
		State:            c.State,
		Active:           c.PeerConnected && c.State == "CHANNELD_NORMAL",
		Private:          c.Private,
		Initiator:        c.Opener == "local",
		CapacitySat:      MsatToSat(total),
		LocalSat:         MsatToSat(toUs),
		LocalMsat:        toUs,
		RemoteSat:        MsatToSat(remote),
		RemoteMsat:       remote,
		LocalReserveSat:  MsatToSat(ourReserve),
		RemoteReserveSat: MsatToSat(theirReserve),
		TotalSentSat:     MsatToSat(sent),
		TotalReceivedSat: MsatToSat(received),
		NumUpdates:       c.InPaymentsOffered + c.OutPaymentsOffered,
		CSVDelay:         c.OurToSelfDelay,
		CloseAddress:     c.CloseToAddr,
	}
	if c.FundingOutnum != nil && c.FundingTxID != "" {
		ch.ChannelPoint = c.FundingTxID + ":" + strconv.Itoa(*c.FundingOutnum)
	}
	return ch
}

// CLNChannelFee returns the local fee policy of a channel. ok is false when
// the node did not report one.
func CLNChannelFee(c CLNChannel) (lnunify.ChannelFee, bool) {
	fee := lnunify.ChannelFee{
		ChannelID:    firstString(c.ShortChannelID, c.ChannelID),
		ChannelPoint: CLNChannelRecord(c).ChannelPoint,
	}
	switch {
	case c.Updates != nil && c.Updates.Local.FeeBaseMsat != nil:
		fee.BaseFeeMsat = c.Updates.Local.FeeBaseMsat.Int64()
		fee.FeeRatePPM = c.Updates.Local.FeePPM
	case c.FeeBaseMsat != nil:
		fee.BaseFeeMsat = c.FeeBaseMsat.Int64()
		if c.FeePPM != nil {
			fee.FeeRatePPM = *c.FeePPM
		}
	default:
		return fee, false
	}
	return fee, true
}

// CLNPeer is an entry of the legacy listpeers response which nests the
// channels.
type CLNPeer struct {
	ID        string       `json:"id"`
	Connected bool         `json:"connected"`
	Channels  []CLNChannel `json:"channels"`
}

// CLNPeerChannels flattens legacy listpeers output into channel entries.
func CLNPeerChannels(peers []CLNPeer) []CLNChannel {
	var out []CLNChannel
	for _, p := range peers {
		for _, c := range p.Channels {
			c.PeerID = firstString(c.PeerID, p.ID)
			c.PeerConnected = c.PeerConnected || p.Connected
			out = append(out, c)
		}
	}
	return out
}

type CLNClosedChannel struct {
	PeerID         string `json:"peer_id"`
	ChannelID      string `json:"channel_id"`
	ShortChannelID string `json:"short_channel_id"`
	FundingTxID    string `json:"funding_txid"`
	FundingOutnum  int    `json:"funding_outnum"`
	TotalMsat      Msat   `json:"total_msat"`
	FinalToUsMsat  Msat   `json:"final_to_us_msat"`
	Opener         string `json:"opener"`
	Private        bool   `json:"private"`
	CloseCause     string `json:"close_cause"`
}

func CLNClosedChannelRecord(c CLNClosedChannel) lnunify.Channel {
	remote := c.TotalMsat.Int64() - c.FinalToUsMsat.Int64()
	if remote < 0 {
		remote = 0
	}
	return lnunify.Channel{
		ChannelID:      c.ChannelID,
		ShortChannelID: c.ShortChannelID,
		ChannelPoint:   c.FundingTxID + ":" + strconv.Itoa(c.FundingOutnum),
		RemotePubkey:   c.PeerID,
		Status:         lnunify.ChannelClosed,
		State:          c.CloseCause,
		Private:        c.Private,
		Initiator:      c.Opener == "local",
		CapacitySat:    c.TotalMsat.Sat(),
		LocalSat:       c.FinalToUsMsat.Sat(),
		LocalMsat:      c.FinalToUsMsat.Int64(),
		RemoteSat:      MsatToSat(remote),
		RemoteMsat:     remote,
	}
}

type CLNFundOutput struct {
	TxID        string `json:"txid"`
	Output      int    `json:"output"`
	AmountMsat  *Msat  `json:"amount_msat"`
	Value       *Msat  `json:"value"`
	Address     string `json:"address"`
	Status      string `json:"status"`
	Reserved    bool   `json:"reserved"`
	Blockheight int64  `json:"blockheight"`
}

type CLNFundChannel struct {
	PeerID          string `json:"peer_id"`
	Connected       bool   `json:"connected"`
	State           string `json:"state"`
	ShortChannelID  string `json:"short_channel_id"`
	OurAmountMsat   *Msat  `json:"our_amount_msat"`
	ChannelSat      *Msat  `json:"channel_sat"`
	AmountMsat      *Msat  `json:"amount_msat"`
	ChannelTotalSat *Msat  `json:"channel_total_sat"`
}

type CLNListFunds struct {
	Outputs  []CLNFundOutput  `json:"outputs"`
	Channels []CLNFundChannel `json:"channels"`
}

var (
	outputAmountChain = []Candidate[CLNFundOutput]{
		{Name: "amount_msat", Get: func(o CLNFundOutput) *Msat { return o.AmountMsat }},
		{Name: "value", Get: func(o CLNFundOutput) *Msat { return o.Value }, Sat: true},
	}
	fundOurChain = []Candidate[CLNFundChannel]{
		{Name: "our_amount_msat", Get: func(c CLNFundChannel) *Msat { return c.OurAmountMsat }},
		{Name: "channel_sat", Get: func(c CLNFundChannel) *Msat { return c.ChannelSat }, Sat: true},
	}
	fundTotalChain = []Candidate[CLNFundChannel]{
		{Name: "amount_msat", Get: func(c CLNFundChannel) *Msat { return c.AmountMsat }},
		{Name: "channel_total_sat", Get: func(c CLNFundChannel) *Msat { return c.ChannelTotalSat }, Sat: true},
	}
)

// CLNBalance derives wallet and channel balances from listfunds.
func CLNBalance(f CLNListFunds) lnunify.Balance {
	var on lnunify.OnchainBalance
	for _, o := range f.Outputs {
		amt, _ := firstMsat(o, outputAmountChain)
		switch {
		case o.Reserved:
			on.LockedSat += MsatToSat(amt)
		case o.Status == "confirmed":
			on.ConfirmedSat += MsatToSat(amt)
		case o.Status == "unconfirmed":
			on.UnconfirmedSat += MsatToSat(amt)
		}
	}
	on.TotalSat = on.ConfirmedSat + on.UnconfirmedSat

	var (
		local, remote, inactive, pending int64
	)
	for _, c := range f.Channels {
		our, _ := firstMsat(c, fundOurChain)
		total, _ := firstMsat(c, fundTotalChain)
		switch {
		case c.State == "CHANNELD_NORMAL" && c.Connected:
			local += our
			remote += total - our
		case c.State == "CHANNELD_NORMAL":
			inactive += our
		case c.State == "CHANNELD_AWAITING_LOCKIN" || c.State == "DUALOPEND_AWAITING_LOCKIN":
			pending += our
		}
	}

	return lnunify.Balance{
		Onchain: &on,
		Lightning: lnunify.LightningBalance{
			LocalSat:       MsatToSat(local),
			LocalMsat:      local,
			RemoteSat:      MsatToSat(remote),
			RemoteMsat:     remote,
			PendingOpenSat: MsatToSat(pending),
			InactiveSat:    MsatToSat(inactive),
		},
	}
}

func CLNUTXOs(f CLNListFunds, blockheight int64) []lnunify.UTXO {
	out := make([]lnunify.UTXO, 0, len(f.Outputs))
	for _, o := range f.Outputs {
		amt, _ := firstMsat(o, outputAmountChain)
		u := lnunify.UTXO{
			Outpoint:  o.TxID + ":" + strconv.Itoa(o.Output),
			Address:   o.Address,
			AmountSat: MsatToSat(amt),
			Status:    o.Status,
		}
		if o.Blockheight > 0 && blockheight >= o.Blockheight {
			u.Confirmations = blockheight - o.Blockheight + 1
		}
		out = append(out, u)
	}
	return out
}

type CLNInvoice struct {
	Label              string `json:"label"`
	Bolt11             string `json:"bolt11"`
	Bolt12             string `json:"bolt12"`
	PaymentHash        string `json:"payment_hash"`
	AmountMsat         *Msat  `json:"amount_msat"`
	Msatoshi           *Msat  `json:"msatoshi"`
	Status             string `json:"status"`
	AmountReceivedMsat *Msat  `json:"amount_received_msat"`
	MsatoshiReceived   *Msat  `json:"msatoshi_received"`
	PaidAt             Unix   `json:"paid_at"`
	PaymentPreimage    string `json:"payment_preimage"`
	Description        string `json:"description"`
	ExpiresAt          Unix   `json:"expires_at"`
	CreatedAt          Unix   `json:"created_at"`
}

var (
	invoiceAmountChain = []Candidate[CLNInvoice]{
		{Name: "amount_msat", Get: func(i CLNInvoice) *Msat { return i.AmountMsat }},
		{Name: "msatoshi", Get: func(i CLNInvoice) *Msat { return i.Msatoshi }},
	}
	invoiceReceivedChain = []Candidate[CLNInvoice]{
		{Name: "amount_received_msat", Get: func(i CLNInvoice) *Msat { return i.AmountReceivedMsat }},
		{Name: "msatoshi_received", Get: func(i CLNInvoice) *Msat { return i.MsatoshiReceived }},
	}
)

func clnInvoiceState(status string) lnunify.InvoiceState {
	switch status {
	case "paid":
		return lnunify.InvoiceSettled
	case "expired":
		return lnunify.InvoiceExpired
	default:
		return lnunify.InvoiceOpen
	}
}

func CLNInvoiceRecord(i CLNInvoice) lnunify.Invoice {
	value, _ := firstMsat(i, invoiceAmountChain)
	paid, _ := firstMsat(i, invoiceReceivedChain)
	return lnunify.Invoice{
		PaymentHash:    i.PaymentHash,
		Preimage:       i.PaymentPreimage,
		PaymentRequest: i.Bolt11,
		Bolt12:         i.Bolt12,
		Label:          i.Label,
		Memo:           i.Description,
		ValueSat:       MsatToSat(value),
		ValueMsat:      value,
		AmountPaidSat:  MsatToSat(paid),
		AmountPaidMsat: paid,
		State:          clnInvoiceState(i.Status),
		CreatedAt:      int64(i.CreatedAt),
		SettledAt:      int64(i.PaidAt),
		ExpiresAt:      int64(i.ExpiresAt),
	}
}

// CLNCreatedInvoice is the reply of the invoice command.
type CLNCreatedInvoice struct {
	PaymentHash string `json:"payment_hash"`
	Bolt11      string `json:"bolt11"`
	ExpiresAt   Unix   `json:"expires_at"`
}

func CLNCreatedInvoiceRecord(r CLNCreatedInvoice, label string, req lnunify.CreateInvoiceRequest) lnunify.Invoice {
	msat := req.AmountMsat()
	return lnunify.Invoice{
		PaymentHash:    r.PaymentHash,
		PaymentRequest: r.Bolt11,
		Label:          label,
		Memo:           req.Memo,
		ValueSat:       MsatToSat(msat),
		ValueMsat:      msat,
		State:          lnunify.InvoiceOpen,
		ExpiresAt:      int64(r.ExpiresAt),
		Private:        req.Private,
	}
}

// CLNPayment covers sendpays rows, listpays entries and pay/keysend
// replies.
type CLNPayment struct {
	PaymentHash     string `json:"payment_hash"`
	Status          string `json:"status"`
	Destination     string `json:"destination"`
	CreatedAt       Unix   `json:"created_at"`
	Description     string `json:"description"`
	Bolt11          string `json:"bolt11"`
	Bolt12          string `json:"bolt12"`
	AmountSentMsat  *Msat  `json:"amount_sent_msat"`
	MsatoshiSent    *Msat  `json:"msatoshi_sent"`
	AmountMsat      *Msat  `json:"amount_msat"`
	Msatoshi        *Msat  `json:"msatoshi"`
	Preimage        string `json:"preimage"`
	PaymentPreimage string `json:"payment_preimage"`
}

var (
	paymentSentChain = []Candidate[CLNPayment]{
		{Name: "amount_sent_msat", Get: func(p CLNPayment) *Msat { return p.AmountSentMsat }},
		{Name: "msatoshi_sent", Get: func(p CLNPayment) *Msat { return p.MsatoshiSent }},
	}
	paymentAmountChain = []Candidate[CLNPayment]{
		{Name: "amount_msat", Get: func(p CLNPayment) *Msat { return p.AmountMsat }},
		{Name: "msatoshi", Get: func(p CLNPayment) *Msat { return p.Msatoshi }},
	}
)

func clnPaymentStatus(status string) lnunify.PaymentStatus {
	switch status {
	case "complete":
		return lnunify.PaymentSucceeded
	case "pending":
		return lnunify.PaymentInFlight
	case "failed":
		return lnunify.PaymentFailed
	default:
		return lnunify.PaymentUnknown
	}
}

func CLNPaymentRecord(p CLNPayment) lnunify.Payment {
	amount, _ := firstMsat(p, paymentAmountChain)
	sent, ok := firstMsat(p, paymentSentChain)
	var fee int64
	if ok && sent > amount {
		fee = sent - amount
	}
	return lnunify.Payment{
		PaymentHash:    p.PaymentHash,
		Preimage:       firstString(p.PaymentPreimage, p.Preimage),
		PaymentRequest: p.Bolt11,
		Bolt12:         p.Bolt12,
		Destination:    p.Destination,
		Description:    p.Description,
		ValueSat:       MsatToSat(amount),
		ValueMsat:      amount,
		FeeSat:         MsatToSat(fee),
		FeeMsat:        fee,
		Status:         clnPaymentStatus(p.Status),
		CreatedAt:      int64(p.CreatedAt),
	}
}

type CLNFallback struct {
	Addr string `json:"addr"`
}

// CLNDecoded is the reply of decode and the legacy decodepay.
type CLNDecoded struct {
	Type               string        `json:"type"`
	Valid              *bool         `json:"valid"`
	Payee              string        `json:"payee"`
	PaymentHash        string        `json:"payment_hash"`
	AmountMsat         *Msat         `json:"amount_msat"`
	Msatoshi           *Msat         `json:"msatoshi"`
	Description        string        `json:"description"`
	DescriptionHash    string        `json:"description_hash"`
	CreatedAt          Unix          `json:"created_at"`
	Expiry             int64         `json:"expiry"`
	MinFinalCLTVExpiry int64         `json:"min_final_cltv_expiry"`
	Fallbacks          []CLNFallback `json:"fallbacks"`
}

func CLNPayReq(d CLNDecoded) (lnunify.PayReq, error) {
	if d.Valid != nil && !*d.Valid {
		return lnunify.PayReq{}, fmt.Errorf("%w: invalid payment request", lnunify.ErrBackend)
	}
	msat, _ := firstMsat(d, []Candidate[CLNDecoded]{
		{Name: "amount_msat", Get: func(d CLNDecoded) *Msat { return d.AmountMsat }},
		{Name: "msatoshi", Get: func(d CLNDecoded) *Msat { return d.Msatoshi }},
	})
	pr := lnunify.PayReq{
		Destination:     d.Payee,
		PaymentHash:     d.PaymentHash,
		NumSat:          MsatToSat(msat),
		NumMsat:         msat,
		Description:     d.Description,
		DescriptionHash: d.DescriptionHash,
		Timestamp:       int64(d.CreatedAt),
		Expiry:          d.Expiry,
		CLTVExpiry:      d.MinFinalCLTVExpiry,
	}
	if len(d.Fallbacks) > 0 {
		pr.FallbackAddr = d.Fallbacks[0].Addr
	}
	return pr, nil
}

type CLNForward struct {
	Status       string `json:"status"`
	FeeMsat      *Msat  `json:"fee_msat"`
	Fee          *Msat  `json:"fee"`
	ResolvedTime Unix   `json:"resolved_time"`
}

const day = 24 * 60 * 60

// CLNFeeReport sums settled forwarding fees over the last day, week and
// month relative to now, and lists the local fee policy of each channel.
func CLNFeeReport(info CLNGetinfo, channels []CLNChannel, forwards []CLNForward, now int64) lnunify.FeeReport {
	var dayMsat, weekMsat, monthMsat int64
	for _, f := range forwards {
		if f.Status != "settled" {
			continue
		}
		fee, _ := firstMsat(f, []Candidate[CLNForward]{
			{Name: "fee_msat", Get: func(f CLNForward) *Msat { return f.FeeMsat }},
			{Name: "fee", Get: func(f CLNForward) *Msat { return f.Fee }},
		})
		age := now - int64(f.ResolvedTime)
		if age < day {
			dayMsat += fee
		}
		if age < 7*day {
			weekMsat += fee
		}
		if age < 30*day {
			monthMsat += fee
		}
	}

	report := lnunify.FeeReport{
		ChannelFees: make([]lnunify.ChannelFee, 0, len(channels)),
		DayFeeSat:   MsatToSat(dayMsat),
		WeekFeeSat:  MsatToSat(weekMsat),
		MonthFeeSat: MsatToSat(monthMsat),
		TotalFeeSat: MsatToSat(CLNFeesCollected(info)),
	}
	for _, c := range channels {
		if fee, ok := CLNChannelFee(c); ok {
			report.ChannelFees = append(report.ChannelFees, fee)
		}
	}
	return report
}

type CLNOffer struct {
	OfferID     string `json:"offer_id"`
	Active      bool   `json:"active"`
	SingleUse   bool   `json:"single_use"`
	Bolt12      string `json:"bolt12"`
	Used        bool   `json:"used"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

func CLNOfferRecord(o CLNOffer) lnunify.Offer {
	return lnunify.Offer{
		ID:          o.OfferID,
		Bolt12:      o.Bolt12,
		Description: o.Description,
		Label:       o.Label,
		Active:      o.Active,
		SingleUse:   o.SingleUse,
		Used:        o.Used,
	}
}

type CLNFetchedInvoice struct {
	Invoice string `json:"invoice"`
	Changes struct {
		DescriptionAppended string `json:"description_appended"`
		Description         string `json:"description"`
		VendorRemoved       string `json:"vendor_removed"`
		Vendor              string `json:"vendor"`
		AmountMsat          *Msat  `json:"amount_msat"`
	} `json:"changes"`
}

func CLNFetchedInvoiceRecord(r CLNFetchedInvoice, requestedMsat int64) lnunify.FetchedInvoice {
	out := lnunify.FetchedInvoice{
		Bolt12Invoice: r.Invoice,
		AmountMsat:    requestedMsat,
	}
	changes := map[string]string{
		"description_appended": r.Changes.DescriptionAppended,
		"description":          r.Changes.Description,
		"vendor_removed":       r.Changes.VendorRemoved,
		"vendor":               r.Changes.Vendor,
	}
	if r.Changes.AmountMsat != nil {
		out.AmountMsat = r.Changes.AmountMsat.Int64()
		changes["amount_msat"] = strconv.FormatInt(out.AmountMsat, 10)
	}
	for k, v := range changes {
		if v == "" {
			delete(changes, k)
		}
	}
	if len(changes) > 0 {
		out.Changes = changes
	}
	return out
}

// Positional SQL results.

// SQLRows is the reply of the sql command.
type SQLRows struct {
	Rows [][]json.RawMessage `json:"rows"`
}

// InvoiceColumns is the column order of InvoicesQuery.
var InvoiceColumns = []string{
	"label", "bolt11", "bolt12", "payment_hash", "amount_msat", "status",
	"amount_received_msat", "paid_at", "payment_preimage", "description",
	"expires_at",
}

// PaymentColumns is the column order of PaymentsQuery.
var PaymentColumns = []string{
	"payment_hash", "groupid", "status", "destination", "created_at",
	"description", "bolt11", "bolt12", "amount_sent_msat", "amount_msat",
	"preimage",
}

// BookkeeperColumns is the column order of BookkeeperQuery.
var BookkeeperColumns = []string{
	"account", "tag", "outpoint", "credit_msat", "debit_msat", "timestamp",
	"blockheight",
}

// InvoicesQuery selects the most recent paid invoices.
func InvoicesQuery(limit int) string {
	return "SELECT " + strings.Join(InvoiceColumns, ", ") +
		" FROM invoices WHERE status = 'paid' ORDER BY created_index DESC LIMIT " +
		strconv.Itoa(limit) + ";"
}

// PaymentsQuery groups sendpays parts into payments.
func PaymentsQuery(limit int) string {
	return "select sp.payment_hash, sp.groupid, min(sp.status) as status, " +
		"min(sp.destination) as destination, min(sp.created_at) as created_at, " +
		"min(sp.description) as description, min(sp.bolt11) as bolt11, " +
		"min(sp.bolt12) as bolt12, " +
		"sum(case when sp.status = 'complete' then sp.amount_sent_msat else null end) as amount_sent_msat, " +
		"sum(case when sp.status = 'complete' then sp.amount_msat else 0 end) as amount_msat, " +
		"max(sp.payment_preimage) as preimage " +
		"from sendpays sp group by sp.payment_hash, sp.groupid " +
		"order by created_index desc limit " + strconv.Itoa(limit)
}

// BookkeeperQuery selects the account events relevant for on-chain history.
func BookkeeperQuery(limit int) string {
	return "SELECT " + strings.Join(BookkeeperColumns, ", ") +
		" FROM bkpr_accountevents WHERE (tag='deposit' OR tag='to_them' OR " +
		"tag='channel_open' OR tag='channel_close') ORDER BY timestamp DESC LIMIT " +
		strconv.Itoa(limit)
}

// DecodeRows maps positional rows onto T using the column names as JSON
// keys. Rows with fewer values than columns leave the rest unset.
func DecodeRows[T any](rows SQLRows, columns []string) ([]T, error) {
	out := make([]T, 0, len(rows.Rows))
	for i, row := range rows.Rows {
		obj := make(map[string]json.RawMessage, len(columns))
		for j, col := range columns {
			if j < len(row) {
				obj[col] = row[j]
			}
		}
		b, err := json.Marshal(obj)
		if err != nil {
			return nil, err
		}
		var rec T
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("decoding row %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Bookkeeper based on-chain history.

type CLNAccountEvent struct {
	Account     string `json:"account"`
	Tag         string `json:"tag"`
	Outpoint    string `json:"outpoint"`
	CreditMsat  Msat   `json:"credit_msat"`
	DebitMsat   Msat   `json:"debit_msat"`
	Timestamp   Unix   `json:"timestamp"`
	Blockheight int64  `json:"blockheight"`
}

func (e CLNAccountEvent) txid() string {
	txid, _, _ := strings.Cut(e.Outpoint, ":")
	return txid
}

type CLNTxOutput struct {
	Index        int    `json:"index"`
	AmountMsat   *Msat  `json:"amount_msat"`
	ScriptPubKey string `json:"scriptPubKey"`
}

type CLNTransaction struct {
	Hash        string        `json:"hash"`
	Blockheight int64         `json:"blockheight"`
	Outputs     []CLNTxOutput `json:"outputs"`
}

// CLNTransactions merges bookkeeper deposit events with listtransactions.
// Wallet deposits become incoming, external deposits outgoing
// transactions. Transactions belonging to channel opens or closes are
// skipped. network selects the address encoding of the outputs.
func CLNTransactions(events []CLNAccountEvent, txs []CLNTransaction,
	blockheight int64, network string) []lnunify.Transaction {

	channelTx := make(map[string]bool)
	var wallet, external []CLNAccountEvent
	for _, e := range events {
		switch {
		case e.Tag == "channel_open" || e.Tag == "channel_close":
			channelTx[e.txid()] = true
		case e.Tag == "deposit" && e.Account == "wallet":
			wallet = append(wallet, e)
		case e.Tag == "deposit" && e.Account == "external":
			external = append(external, e)
		}
	}

	find := func(list []CLNAccountEvent, txid string) (CLNAccountEvent, bool) {
		for _, e := range list {
			if e.txid() == txid {
				return e, true
			}
		}
		return CLNAccountEvent{}, false
	}

	var out []lnunify.Transaction
	for _, tx := range txs {
		if channelTx[tx.Hash] {
			continue
		}

		var (
			ev     CLNAccountEvent
			amount int64
		)
		if w, ok := find(external, tx.Hash); ok {
			ev = w
			amount = -abs(w.CreditMsat.Sat())
		} else if d, ok := find(wallet, tx.Hash); ok {
			ev = d
			amount = d.CreditMsat.Sat()
		} else {
			continue
		}

		rec := lnunify.Transaction{
			TxID:        tx.Hash,
			AmountSat:   amount,
			BlockHeight: int32(ev.Blockheight),
			Timestamp:   int64(ev.Timestamp),
		}
		if ev.Blockheight > 0 {
			rec.NumConfirmations = int32(blockheight - ev.Blockheight)
		}
		for _, o := range tx.Outputs {
			if addr, err := AddressFromScript(o.ScriptPubKey, network); err == nil {
				rec.DestAddresses = append(rec.DestAddresses, addr)
			}
		}
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	return out
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Legacy command replies used by nodes without listpeerchannels or sql.

// CLNNode is an entry of listnodes.
type CLNNode struct {
	NodeID string `json:"nodeid"`
	Alias  string `json:"alias"`
}

// CLNGossipChannel is an entry of listchannels, the gossip view of a
// channel direction.
type CLNGossipChannel struct {
	ShortChannelID      string `json:"short_channel_id"`
	Source              string `json:"source"`
	BaseFeeMillisatoshi *Msat  `json:"base_fee_millisatoshi"`
	FeePerMillionth     int64  `json:"fee_per_millionth"`
}

// CLNApplyGossipFees copies the fee policy announced for each channel's
// short channel id onto channels that carry none. The input is not
// modified.
func CLNApplyGossipFees(channels []CLNChannel, gossip []CLNGossipChannel) []CLNChannel {
	bySCID := make(map[string]CLNGossipChannel, len(gossip))
	for _, g := range gossip {
		bySCID[g.ShortChannelID] = g
	}
	out := make([]CLNChannel, len(channels))
	for i, c := range channels {
		if g, ok := bySCID[c.ShortChannelID]; ok && c.FeeBaseMsat == nil && g.BaseFeeMillisatoshi != nil {
			base := *g.BaseFeeMillisatoshi
			ppm := g.FeePerMillionth
			c.FeeBaseMsat = &base
			c.FeePPM = &ppm
		}
		out[i] = c
	}
	return out
}

// CLNFundTransactions lists the wallet outputs as incoming transactions,
// the only history nodes without bookkeeper expose.
func CLNFundTransactions(f CLNListFunds, blockheight int64) []lnunify.Transaction {
	out := make([]lnunify.Transaction, 0, len(f.Outputs))
	for _, o := range f.Outputs {
		amt, _ := firstMsat(o, outputAmountChain)
		tx := lnunify.Transaction{
			TxID:        o.TxID,
			AmountSat:   MsatToSat(amt),
			BlockHeight: int32(o.Blockheight),
		}
		if o.Address != "" {
			tx.DestAddresses = []string{o.Address}
		}
		if o.Blockheight > 0 && blockheight >= o.Blockheight {
			tx.NumConfirmations = int32(blockheight - o.Blockheight + 1)
		}
		out = append(out, tx)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BlockHeight > out[j].BlockHeight
	})
	return out
}
