package normalize

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/feelancer21/lnunify"
)

// Eclair answers in camelCase. The types below carry the snake_case names
// produced by DecodeCamel.

type EclairInfo struct {
	Version         string   `json:"version"`
	NodeID          string   `json:"node_id"`
	Alias           string   `json:"alias"`
	Color           string   `json:"color"`
	Network         string   `json:"network"`
	BlockHeight     uint32   `json:"block_height"`
	PublicAddresses []string `json:"public_addresses"`
}

func EclairNodeInfo(r EclairInfo, channels []EclairChannel) lnunify.NodeInfo {
	info := lnunify.NodeInfo{
		Pubkey:        r.NodeID,
		Alias:         r.Alias,
		Color:         r.Color,
		Version:       r.Version,
		Network:       r.Network,
		BlockHeight:   r.BlockHeight,
		SyncedToChain: true,
		SyncedToGraph: true,
	}
	for _, a := range r.PublicAddresses {
		info.URIs = append(info.URIs, r.NodeID+"@"+a)
	}
	peers := make(map[string]struct{})
	for _, c := range channels {
		peers[c.remoteNodeID()] = struct{}{}
		switch EclairChannelStatus(c.State) {
		case lnunify.ChannelOpen:
			info.NumActiveChannels++
		case lnunify.ChannelPendingOpen:
			info.NumPendingChannels++
		}
	}
	info.NumPeers = uint32(len(peers))
	return info
}

// EclairOnchainBalance is the reply of onchainbalance, in satoshis.
type EclairOnchainBalance struct {
	Confirmed   int64 `json:"confirmed"`
	Unconfirmed int64 `json:"unconfirmed"`
}

type eclairSpec struct {
	ToLocal  Msat `json:"to_local"`
	ToRemote Msat `json:"to_remote"`
}

type eclairCommit struct {
	Spec eclairSpec `json:"spec"`
}

type eclairParams struct {
	NodeID         string `json:"node_id"`
	ToSelfDelay    uint32 `json:"to_self_delay"`
	ChannelReserve *Msat  `json:"channel_reserve"`
	IsInitiator    *bool  `json:"is_initiator"`
	IsFunder       *bool  `json:"is_funder"`
}

// eclairCommitments covers the flat layout of eclair before 0.9 and the
// params/active layout introduced with splicing.
type eclairCommitments struct {
	LocalCommit  *eclairCommit `json:"local_commit"`
	LocalParams  *eclairParams `json:"local_params"`
	RemoteParams *eclairParams `json:"remote_params"`
	ChannelFlags *struct {
		AnnounceChannel bool `json:"announce_channel"`
	} `json:"channel_flags"`
	Params *struct {
		LocalParams  eclairParams `json:"local_params"`
		RemoteParams eclairParams `json:"remote_params"`
		ChannelFlags struct {
			AnnounceChannel bool `json:"announce_channel"`
		} `json:"channel_flags"`
	} `json:"params"`
	Active []struct {
		LocalCommit eclairCommit `json:"local_commit"`
		FundingTx   *struct {
			Amount int64 `json:"amount"`
		} `json:"funding_tx"`
	} `json:"active"`
}

type eclairChannelUpdate struct {
	ShortChannelID            string `json:"short_channel_id"`
	FeeBaseMsat               Msat   `json:"fee_base_msat"`
	FeeProportionalMillionths int64  `json:"fee_proportional_millionths"`
}

type EclairChannel struct {
	NodeID    string `json:"node_id"`
	ChannelID string `json:"channel_id"`
	State     string `json:"state"`
	Data      struct {
		Commitments   eclairCommitments    `json:"commitments"`
		ChannelUpdate *eclairChannelUpdate `json:"channel_update"`
		ShortIDs      *struct {
			Real *struct {
				RealScid string `json:"real_scid"`
			} `json:"real"`
		} `json:"short_ids"`
	} `json:"data"`
}

func (c EclairChannel) commit() eclairSpec {
	cm := c.Data.Commitments
	if cm.LocalCommit != nil {
		return cm.LocalCommit.Spec
	}
	if len(cm.Active) > 0 {
		return cm.Active[0].LocalCommit.Spec
	}
	return eclairSpec{}
}

func (c EclairChannel) params() (local, remote eclairParams) {
	cm := c.Data.Commitments
	if cm.Params != nil {
		return cm.Params.LocalParams, cm.Params.RemoteParams
	}
	if cm.LocalParams != nil {
		local = *cm.LocalParams
	}
	if cm.RemoteParams != nil {
		remote = *cm.RemoteParams
	}
	return local, remote
}

func (c EclairChannel) remoteNodeID() string {
	_, remote := c.params()
	return firstString(c.NodeID, remote.NodeID)
}

func (c EclairChannel) announced() bool {
	cm := c.Data.Commitments
	if cm.Params != nil {
		return cm.Params.ChannelFlags.AnnounceChannel
	}
	return cm.ChannelFlags != nil && cm.ChannelFlags.AnnounceChannel
}

func (c EclairChannel) shortChannelID() string {
	if u := c.Data.ChannelUpdate; u != nil && u.ShortChannelID != "" {
		return u.ShortChannelID
	}
	if s := c.Data.ShortIDs; s != nil && s.Real != nil {
		return s.Real.RealScid
	}
	return ""
}

// EclairChannelStatus maps the channel FSM state to a status.
func EclairChannelStatus(state string) lnunify.ChannelStatus {
	switch state {
	case "NORMAL", "OFFLINE", "SYNCING":
		return lnunify.ChannelOpen
	case "WAIT_FOR_INIT_INTERNAL", "WAIT_FOR_OPEN_CHANNEL", "WAIT_FOR_ACCEPT_CHANNEL",
		"WAIT_FOR_FUNDING_INTERNAL", "WAIT_FOR_FUNDING_CREATED", "WAIT_FOR_FUNDING_SIGNED",
		"WAIT_FOR_FUNDING_CONFIRMED", "WAIT_FOR_CHANNEL_READY", "WAIT_FOR_FUNDING_LOCKED",
		"WAIT_FOR_DUAL_FUNDING_CONFIRMED", "WAIT_FOR_DUAL_FUNDING_READY":
		return lnunify.ChannelPendingOpen
	case "CLOSED":
		return lnunify.ChannelClosed
	default:
		return lnunify.ChannelClosing
	}
}

func EclairChannelRecord(c EclairChannel) lnunify.Channel {
	spec := c.commit()
	local, remote := c.params()
	initiator := false
	switch {
	case local.IsInitiator != nil:
		initiator = *local.IsInitiator
	case local.IsFunder != nil:
		initiator = *local.IsFunder
	}
	var localReserve, remoteReserve int64
	if local.ChannelReserve != nil {
		localReserve = local.ChannelReserve.Int64()
	}
	if remote.ChannelReserve != nil {
		remoteReserve = remote.ChannelReserve.Int64()
	}
	toLocal, toRemote := spec.ToLocal.Int64(), spec.ToRemote.Int64()
	return lnunify.Channel{
		ChannelID:        c.ChannelID,
		ShortChannelID:   c.shortChannelID(),
		RemotePubkey:     c.remoteNodeID(),
		Status:           EclairChannelStatus(c.State),
		State:            c.State,
		Active:           c.State == "NORMAL",
		Private:          !c.announced(),
		Initiator:        initiator,
		CapacitySat:      MsatToSat(toLocal + toRemote),
		LocalSat:         MsatToSat(toLocal),
		LocalMsat:        toLocal,
		RemoteSat:        MsatToSat(toRemote),
		RemoteMsat:       toRemote,
		LocalReserveSat:  localReserve,
		RemoteReserveSat: remoteReserve,
		CSVDelay:         local.ToSelfDelay,
	}
}

// EclairBalance sums channel balances. Offline channels still count as
// spendable, channels waiting for confirmation as pending.
func EclairBalance(on *EclairOnchainBalance, channels []EclairChannel) lnunify.Balance {
	var local, remote, pending int64
	for _, c := range channels {
		spec := c.commit()
		switch c.State {
		case "NORMAL", "OFFLINE":
			local += spec.ToLocal.Int64()
			remote += spec.ToRemote.Int64()
		case "WAIT_FOR_FUNDING_CONFIRMED", "WAIT_FOR_DUAL_FUNDING_CONFIRMED":
			pending += spec.ToLocal.Int64()
		}
	}
	b := lnunify.Balance{
		Lightning: lnunify.LightningBalance{
			LocalSat:       MsatToSat(local),
			LocalMsat:      local,
			RemoteSat:      MsatToSat(remote),
			RemoteMsat:     remote,
			PendingOpenSat: MsatToSat(pending),
		},
	}
	if on != nil {
		b.Onchain = &lnunify.OnchainBalance{
			TotalSat:       on.Confirmed + on.Unconfirmed,
			ConfirmedSat:   on.Confirmed,
			UnconfirmedSat: on.Unconfirmed,
		}
	}
	return b
}

// EclairChannelFees lists the relay fees of channels with a channel
// update.
func EclairChannelFees(channels []EclairChannel) []lnunify.ChannelFee {
	fees := make([]lnunify.ChannelFee, 0, len(channels))
	for _, c := range channels {
		u := c.Data.ChannelUpdate
		if u == nil {
			continue
		}
		fees = append(fees, lnunify.ChannelFee{
			ChannelID:   c.ChannelID,
			BaseFeeMsat: u.FeeBaseMsat.Int64(),
			FeeRatePPM:  u.FeeProportionalMillionths,
		})
	}
	return fees
}

// EclairTime decodes both the plain millisecond timestamps of old eclair
// versions and the {"iso", "unix"} objects of newer ones. The value is in
// seconds.
type EclairTime int64

func (t *EclairTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			Unix Unix `json:"unix"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*t = EclairTime(obj.Unix)
		return nil
	}
	var ms Unix
	if err := ms.UnmarshalJSON(b); err != nil {
		return err
	}
	*t = EclairTime(int64(ms) / 1000)
	return nil
}

type EclairInvoice struct {
	Serialized         string `json:"serialized"`
	Description        string `json:"description"`
	PaymentHash        string `json:"payment_hash"`
	Expiry             int64  `json:"expiry"`
	Timestamp          Unix   `json:"timestamp"`
	Amount             *Msat  `json:"amount"`
	NodeID             string `json:"node_id"`
	MinFinalCLTVExpiry int64  `json:"min_final_cltv_expiry"`
}

// EclairInvoiceRecord converts an invoice. Eclair lists settled and open
// invoices separately; an invoice is settled when it is missing from the
// pending set.
func EclairInvoiceRecord(i EclairInvoice, pending map[string]bool, now int64) lnunify.Invoice {
	var value int64
	if i.Amount != nil {
		value = i.Amount.Int64()
	}
	inv := lnunify.Invoice{
		PaymentHash:    i.PaymentHash,
		PaymentRequest: i.Serialized,
		Memo:           i.Description,
		ValueSat:       MsatToSat(value),
		ValueMsat:      value,
		CreatedAt:      int64(i.Timestamp),
		ExpiresAt:      int64(i.Timestamp) + i.Expiry,
	}
	switch {
	case !pending[i.PaymentHash]:
		inv.State = lnunify.InvoiceSettled
		inv.AmountPaidSat = inv.ValueSat
		inv.AmountPaidMsat = value
	case i.Expiry > 0 && now > inv.ExpiresAt:
		inv.State = lnunify.InvoiceExpired
	default:
		inv.State = lnunify.InvoiceOpen
	}
	return inv
}

// EclairInvoices merges listinvoices and listpendinginvoices, newest
// first.
func EclairInvoices(all, pending []EclairInvoice, now int64) []lnunify.Invoice {
	open := make(map[string]bool, len(pending))
	for _, p := range pending {
		open[p.PaymentHash] = true
	}
	out := make([]lnunify.Invoice, 0, len(all))
	for _, i := range all {
		out = append(out, EclairInvoiceRecord(i, open, now))
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt > out[b].CreatedAt })
	return out
}

func EclairPayReq(i EclairInvoice) lnunify.PayReq {
	var msat int64
	if i.Amount != nil {
		msat = i.Amount.Int64()
	}
	return lnunify.PayReq{
		Destination: i.NodeID,
		PaymentHash: i.PaymentHash,
		NumSat:      MsatToSat(msat),
		NumMsat:     msat,
		Description: i.Description,
		Timestamp:   int64(i.Timestamp),
		Expiry:      i.Expiry,
		CLTVExpiry:  i.MinFinalCLTVExpiry,
	}
}

type eclairPart struct {
	Amount    Msat       `json:"amount"`
	FeesPaid  Msat       `json:"fees_paid"`
	Timestamp EclairTime `json:"timestamp"`
}

type EclairSent struct {
	ID              string       `json:"id"`
	PaymentHash     string       `json:"payment_hash"`
	PaymentPreimage string       `json:"payment_preimage"`
	RecipientAmount Msat         `json:"recipient_amount"`
	RecipientNodeID string       `json:"recipient_node_id"`
	Parts           []eclairPart `json:"parts"`
}

type EclairRelayed struct {
	AmountIn  Msat       `json:"amount_in"`
	AmountOut Msat       `json:"amount_out"`
	Timestamp EclairTime `json:"timestamp"`
}

// EclairAudit is the reply of the audit call.
type EclairAudit struct {
	Sent    []EclairSent    `json:"sent"`
	Relayed []EclairRelayed `json:"relayed"`
}

func EclairPaymentRecord(s EclairSent) lnunify.Payment {
	var fee int64
	var created int64
	for _, p := range s.Parts {
		fee += p.FeesPaid.Int64()
		if created == 0 || int64(p.Timestamp) < created {
			created = int64(p.Timestamp)
		}
	}
	value := s.RecipientAmount.Int64()
	return lnunify.Payment{
		PaymentHash: s.PaymentHash,
		Preimage:    s.PaymentPreimage,
		Destination: s.RecipientNodeID,
		ValueSat:    MsatToSat(value),
		ValueMsat:   value,
		FeeSat:      MsatToSat(fee),
		FeeMsat:     fee,
		Status:      lnunify.PaymentSucceeded,
		CreatedAt:   created,
	}
}

func EclairPayments(a EclairAudit) []lnunify.Payment {
	out := make([]lnunify.Payment, 0, len(a.Sent))
	for _, s := range a.Sent {
		out = append(out, EclairPaymentRecord(s))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

// EclairFeeReport sums relay fees over the last day, week and month
// relative to now.
func EclairFeeReport(a EclairAudit, channels []EclairChannel, now int64) lnunify.FeeReport {
	var dayMsat, weekMsat, monthMsat, totalMsat int64
	for _, r := range a.Relayed {
		fee := r.AmountIn.Int64() - r.AmountOut.Int64()
		age := now - int64(r.Timestamp)
		totalMsat += fee
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
	return lnunify.FeeReport{
		ChannelFees: EclairChannelFees(channels),
		DayFeeSat:   MsatToSat(dayMsat),
		WeekFeeSat:  MsatToSat(weekMsat),
		MonthFeeSat: MsatToSat(monthMsat),
		TotalFeeSat: MsatToSat(totalMsat),
	}
}

type EclairOnchainTx struct {
	Address       string `json:"address"`
	Amount        int64  `json:"amount"`
	Fees          int64  `json:"fees"`
	BlockHash     string `json:"block_hash"`
	Confirmations int32  `json:"confirmations"`
	TxID          string `json:"txid"`
	Timestamp     Unix   `json:"timestamp"`
}

// EclairTransactions converts onchaintransactions output, newest first.
func EclairTransactions(txs []EclairOnchainTx, blockHeight uint32) []lnunify.Transaction {
	out := make([]lnunify.Transaction, 0, len(txs))
	for i := len(txs) - 1; i >= 0; i-- {
		t := txs[i]
		tx := lnunify.Transaction{
			TxID:             t.TxID,
			AmountSat:        t.Amount,
			FeeSat:           t.Fees,
			BlockHash:        t.BlockHash,
			NumConfirmations: t.Confirmations,
			Timestamp:        int64(t.Timestamp),
		}
		if t.Confirmations > 0 {
			tx.BlockHeight = int32(blockHeight) - t.Confirmations + 1
		}
		if t.Address != "" {
			tx.DestAddresses = []string{t.Address}
		}
		out = append(out, tx)
	}
	return out
}

type eclairFailure struct {
	FailureMessage string `json:"failure_message"`
}

// EclairSentInfo is one attempt reported by getsentinfo.
type EclairSentInfo struct {
	ID              string `json:"id"`
	PaymentHash     string `json:"payment_hash"`
	RecipientAmount Msat   `json:"recipient_amount"`
	RecipientNodeID string `json:"recipient_node_id"`
	PaymentRequest  *struct {
		Serialized string `json:"serialized"`
	} `json:"payment_request"`
	CreatedAt EclairTime `json:"created_at"`
	Status    struct {
		Type            string          `json:"type"`
		PaymentPreimage string          `json:"payment_preimage"`
		FeesPaid        Msat            `json:"fees_paid"`
		Failures        []eclairFailure `json:"failures"`
	} `json:"status"`
}

// EclairSentPayment converts the last attempt of getsentinfo. ok is false
// while the payment is still pending.
func EclairSentPayment(attempts []EclairSentInfo) (lnunify.Payment, bool) {
	if len(attempts) == 0 {
		return lnunify.Payment{}, false
	}
	a := attempts[len(attempts)-1]
	value := a.RecipientAmount.Int64()
	p := lnunify.Payment{
		PaymentHash: a.PaymentHash,
		Destination: a.RecipientNodeID,
		ValueSat:    MsatToSat(value),
		ValueMsat:   value,
		CreatedAt:   int64(a.CreatedAt),
	}
	if a.PaymentRequest != nil {
		p.PaymentRequest = a.PaymentRequest.Serialized
	}
	switch strings.ToLower(a.Status.Type) {
	case "sent":
		p.Status = lnunify.PaymentSucceeded
		p.Preimage = a.Status.PaymentPreimage
		p.FeeMsat = a.Status.FeesPaid.Int64()
		p.FeeSat = MsatToSat(p.FeeMsat)
	case "failed":
		p.Status = lnunify.PaymentFailed
		if len(a.Status.Failures) > 0 {
			p.FailureReason = a.Status.Failures[0].FailureMessage
		}
	default:
		p.Status = lnunify.PaymentInFlight
		return p, false
	}
	return p, true
}
