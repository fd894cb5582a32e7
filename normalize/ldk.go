package normalize

import (
	"sort"
	"strconv"

	"github.com/feelancer21/lnunify"
)

// ldk-node answers in camelCase through the native bridge. Funding outpoints
// are flattened into fundingTxo_txid and fundingTxo_vout.

type LDKStatus struct {
	IsRunning                  bool   `json:"isRunning"`
	BestBlockHeight            uint32 `json:"currentBestBlock_height"`
	BestBlockHash              string `json:"currentBestBlock_hash"`
	LatestLightningSync        int64  `json:"latestLightningWalletSyncTimestamp"`
	LatestOnchainSync          int64  `json:"latestOnchainWalletSyncTimestamp"`
	LatestRGSSnapshotTimestamp int64  `json:"latestRgsSnapshotTimestamp"`
}

type LDKBalances struct {
	TotalOnchainSat     int64 `json:"totalOnchainBalanceSats"`
	SpendableOnchainSat int64 `json:"spendableOnchainBalanceSats"`
	TotalLightningSat   int64 `json:"totalLightningBalanceSats"`
}

type LDKChannel struct {
	ChannelID            string `json:"channelId"`
	CounterpartyNodeID   string `json:"counterpartyNodeId"`
	FundingTxID          string `json:"fundingTxo_txid"`
	FundingVout          uint32 `json:"fundingTxo_vout"`
	ValueSat             int64  `json:"channelValueSats"`
	ReserveSat           int64  `json:"unspendablePunishmentReserve"`
	CounterpartyReserve  int64  `json:"counterpartyUnspendablePunishmentReserve"`
	UserChannelID        string `json:"userChannelId"`
	OutboundCapacityMsat int64  `json:"outboundCapacityMsat"`
	InboundCapacityMsat  int64  `json:"inboundCapacityMsat"`
	IsOutbound           bool   `json:"isOutbound"`
	IsChannelReady       bool   `json:"isChannelReady"`
	IsUsable             bool   `json:"isUsable"`
	IsAnnounced          bool   `json:"isAnnounced"`
	ForceCloseSpendDelay uint32 `json:"forceCloseSpendDelay"`
}

// LDKPaymentKind carries the fields of every payment kind. On-chain
// payments set TxID and Status, lightning payments Hash and Preimage.
type LDKPaymentKind struct {
	Type     string `json:"type"`
	TxID     string `json:"txid"`
	Status   string `json:"status"`
	Hash     string `json:"hash"`
	Preimage string `json:"preimage"`
}

type LDKPayment struct {
	ID                    string         `json:"id"`
	Kind                  LDKPaymentKind `json:"kind"`
	AmountMsat            int64          `json:"amountMsat"`
	Direction             string         `json:"direction"`
	Status                string         `json:"status"`
	LatestUpdateTimestamp int64          `json:"latestUpdateTimestamp"`
}

// Onchain reports whether p is an on-chain wallet payment.
func (p LDKPayment) Onchain() bool {
	return p.Kind.Type == "onchain"
}

func (p LDKPayment) Inbound() bool {
	return p.Direction == "inbound"
}

type LDKPeer struct {
	NodeID      string `json:"nodeId"`
	Address     string `json:"address"`
	IsConnected bool   `json:"isConnected"`
}

// LDKEvent is the union of the node events the adapter reacts to.
type LDKEvent struct {
	Type               string `json:"type"`
	PaymentID          string `json:"paymentId"`
	PaymentHash        string `json:"paymentHash"`
	AmountMsat         int64  `json:"amountMsat"`
	ChannelID          string `json:"channelId"`
	UserChannelID      string `json:"userChannelId"`
	CounterpartyNodeID string `json:"counterpartyNodeId"`
	FundingTxID        string `json:"fundingTxo_txid"`
	FundingVout        uint32 `json:"fundingTxo_vout"`
	Reason             string `json:"reason"`
}

// LDKNetwork maps ldk-node network names to the canonical ones.
func LDKNetwork(n string) string {
	if n == "bitcoin" {
		return "mainnet"
	}
	return n
}

func LDKNodeInfo(pubkey, network string, s LDKStatus, channels []LDKChannel,
	peers []LDKPeer) lnunify.NodeInfo {

	info := lnunify.NodeInfo{
		Pubkey:        pubkey,
		Version:       "ldk-node",
		Network:       LDKNetwork(network),
		BlockHeight:   s.BestBlockHeight,
		BlockHash:     s.BestBlockHash,
		SyncedToChain: s.IsRunning,
		SyncedToGraph: s.LatestRGSSnapshotTimestamp != 0,
	}
	for _, c := range channels {
		if c.IsChannelReady {
			info.NumActiveChannels++
		} else {
			info.NumPendingChannels++
		}
	}
	for _, p := range peers {
		if p.IsConnected {
			info.NumPeers++
		}
	}
	return info
}

// LDKBalance counts spendable channel capacity of ready channels as the
// lightning balance and the full value of channels not yet ready as
// pending.
func LDKBalance(b LDKBalances, channels []LDKChannel) lnunify.Balance {
	bal := lnunify.Balance{
		Onchain: &lnunify.OnchainBalance{
			TotalSat:       b.TotalOnchainSat,
			ConfirmedSat:   b.SpendableOnchainSat,
			UnconfirmedSat: b.TotalOnchainSat - b.SpendableOnchainSat,
		},
	}
	for _, c := range channels {
		if !c.IsChannelReady {
			bal.Lightning.PendingOpenSat += c.ValueSat
			continue
		}
		bal.Lightning.LocalMsat += c.OutboundCapacityMsat
		bal.Lightning.RemoteMsat += c.InboundCapacityMsat
	}
	bal.Lightning.LocalSat = MsatToSat(bal.Lightning.LocalMsat)
	bal.Lightning.RemoteSat = MsatToSat(bal.Lightning.RemoteMsat)
	return bal
}

// LDKChannelRecord adds the punishment reserves back to the spendable
// capacities so local and remote add up to the channel balance.
func LDKChannelRecord(c LDKChannel) lnunify.Channel {
	rec := lnunify.Channel{
		ChannelID:        c.ChannelID,
		ShortChannelID:   c.ChannelID,
		RemotePubkey:     c.CounterpartyNodeID,
		Active:           c.IsUsable,
		Private:          !c.IsAnnounced,
		Initiator:        c.IsOutbound,
		CapacitySat:      c.ValueSat,
		LocalMsat:        c.OutboundCapacityMsat + SatToMsat(c.ReserveSat),
		RemoteMsat:       c.InboundCapacityMsat + SatToMsat(c.CounterpartyReserve),
		LocalReserveSat:  c.ReserveSat,
		RemoteReserveSat: c.CounterpartyReserve,
		CSVDelay:         c.ForceCloseSpendDelay,
	}
	rec.LocalSat = MsatToSat(rec.LocalMsat)
	rec.RemoteSat = MsatToSat(rec.RemoteMsat)
	if c.FundingTxID != "" {
		rec.ChannelPoint = c.FundingTxID + ":" + strconv.FormatUint(uint64(c.FundingVout), 10)
	}
	if c.IsChannelReady {
		rec.Status = lnunify.ChannelOpen
	} else {
		rec.Status = lnunify.ChannelPendingOpen
	}
	return rec
}

func ldkPaymentStatus(status string) lnunify.PaymentStatus {
	switch status {
	case "succeeded":
		return lnunify.PaymentSucceeded
	case "pending":
		return lnunify.PaymentInFlight
	case "failed":
		return lnunify.PaymentFailed
	default:
		return lnunify.PaymentUnknown
	}
}

// LDKPaymentRecord converts an outbound lightning payment. ldk-node keeps
// no fee per payment.
func LDKPaymentRecord(p LDKPayment) lnunify.Payment {
	hash := p.Kind.Hash
	if hash == "" {
		hash = p.ID
	}
	rec := lnunify.Payment{
		PaymentHash: hash,
		Preimage:    p.Kind.Preimage,
		ValueMsat:   p.AmountMsat,
		ValueSat:    MsatToSat(p.AmountMsat),
		Status:      ldkPaymentStatus(p.Status),
		CreatedAt:   p.LatestUpdateTimestamp,
	}
	if rec.Status == lnunify.PaymentFailed {
		rec.FailureReason = "FAILURE_REASON_ERROR"
	}
	return rec
}

// LDKInvoiceRecord converts an inbound lightning payment. A pending one is
// still open, a failed one canceled.
func LDKInvoiceRecord(p LDKPayment) lnunify.Invoice {
	rec := lnunify.Invoice{
		PaymentHash: p.Kind.Hash,
		Preimage:    p.Kind.Preimage,
		ValueMsat:   p.AmountMsat,
		ValueSat:    MsatToSat(p.AmountMsat),
		CreatedAt:   p.LatestUpdateTimestamp,
	}
	switch p.Status {
	case "succeeded":
		rec.State = lnunify.InvoiceSettled
		rec.SettledAt = p.LatestUpdateTimestamp
		rec.AmountPaidMsat = p.AmountMsat
		rec.AmountPaidSat = rec.ValueSat
	case "pending":
		rec.State = lnunify.InvoiceOpen
	default:
		rec.State = lnunify.InvoiceCanceled
	}
	return rec
}

// LDKTransaction converts an on-chain payment. The node does not report
// confirmation depth, a confirmed payment counts as six confirmations.
func LDKTransaction(p LDKPayment) lnunify.Transaction {
	txid := p.Kind.TxID
	if txid == "" {
		txid = p.ID
	}
	amount := MsatToSat(p.AmountMsat)
	if !p.Inbound() {
		amount = -amount
	}
	tx := lnunify.Transaction{
		TxID:      txid,
		AmountSat: amount,
		Timestamp: p.LatestUpdateTimestamp,
	}
	if p.Kind.Status == "confirmed" || p.Status == "succeeded" {
		tx.NumConfirmations = 6
	}
	return tx
}

// LDKTransactions returns the on-chain payments, newest first.
func LDKTransactions(payments []LDKPayment) []lnunify.Transaction {
	var out []lnunify.Transaction
	for _, p := range newestFirst(payments) {
		if p.Onchain() {
			out = append(out, LDKTransaction(p))
		}
	}
	return out
}

// LDKInvoices returns inbound lightning payments as invoices, newest
// first.
func LDKInvoices(payments []LDKPayment) []lnunify.Invoice {
	var out []lnunify.Invoice
	for _, p := range newestFirst(payments) {
		if p.Inbound() && !p.Onchain() {
			out = append(out, LDKInvoiceRecord(p))
		}
	}
	return out
}

// LDKPayments returns outbound lightning payments, newest first.
func LDKPayments(payments []LDKPayment) []lnunify.Payment {
	var out []lnunify.Payment
	for _, p := range newestFirst(payments) {
		if !p.Inbound() && !p.Onchain() {
			out = append(out, LDKPaymentRecord(p))
		}
	}
	return out
}

func newestFirst(payments []LDKPayment) []LDKPayment {
	sorted := make([]LDKPayment, len(payments))
	copy(sorted, payments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LatestUpdateTimestamp > sorted[j].LatestUpdateTimestamp
	})
	return sorted
}

// LDKInvoiceUpdate turns a paymentReceived event into a settled invoice.
func LDKInvoiceUpdate(ev LDKEvent) (lnunify.InvoiceUpdate, bool) {
	if ev.Type != "paymentReceived" {
		return lnunify.InvoiceUpdate{}, false
	}
	return lnunify.InvoiceUpdate{Invoice: lnunify.Invoice{
		PaymentHash:    ev.PaymentHash,
		ValueMsat:      ev.AmountMsat,
		ValueSat:       MsatToSat(ev.AmountMsat),
		AmountPaidMsat: ev.AmountMsat,
		AmountPaidSat:  MsatToSat(ev.AmountMsat),
		State:          lnunify.InvoiceSettled,
	}}, true
}

// LDKChannelEvent maps the channel lifecycle events.
func LDKChannelEvent(ev LDKEvent) (lnunify.ChannelEvent, bool) {
	var typ lnunify.ChannelEventType
	switch ev.Type {
	case "channelPending":
		typ = lnunify.ChannelEventPending
	case "channelReady":
		typ = lnunify.ChannelEventOpen
	case "channelClosed":
		typ = lnunify.ChannelEventClosed
	default:
		return lnunify.ChannelEvent{}, false
	}
	out := lnunify.ChannelEvent{Type: typ}
	if ev.FundingTxID != "" {
		out.ChannelPoint = ev.FundingTxID + ":" + strconv.FormatUint(uint64(ev.FundingVout), 10)
	}
	out.Channel = &lnunify.Channel{
		ChannelID:    ev.ChannelID,
		ChannelPoint: out.ChannelPoint,
		RemotePubkey: ev.CounterpartyNodeID,
		State:        ev.Reason,
	}
	switch typ {
	case lnunify.ChannelEventPending:
		out.Channel.Status = lnunify.ChannelPendingOpen
	case lnunify.ChannelEventOpen:
		out.Channel.Status = lnunify.ChannelOpen
		out.Channel.Active = true
	default:
		out.Channel.Status = lnunify.ChannelClosed
	}
	return out, true
}
