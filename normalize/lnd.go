package normalize

import (
	"encoding/hex"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/feelancer21/lnunify"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnwire"
)

// lnd keeps deprecated fields populated next to their replacements for a
// few releases. The functions below prefer the current field and fall back
// to the deprecated one when a node does not send the new field yet.

func LNDNodeInfo(r *lnrpc.GetInfoResponse) lnunify.NodeInfo {
	info := lnunify.NodeInfo{
		Pubkey:             r.GetIdentityPubkey(),
		Alias:              r.GetAlias(),
		Color:              r.GetColor(),
		Version:            r.GetVersion(),
		BlockHeight:        r.GetBlockHeight(),
		BlockHash:          r.GetBlockHash(),
		SyncedToChain:      r.GetSyncedToChain(),
		SyncedToGraph:      r.GetSyncedToGraph(),
		URIs:               append([]string(nil), r.GetUris()...),
		NumActiveChannels:  r.GetNumActiveChannels(),
		NumPendingChannels: r.GetNumPendingChannels(),
		NumPeers:           r.GetNumPeers(),
	}
	if chains := r.GetChains(); len(chains) > 0 {
		info.Network = chains[0].GetNetwork()
	}
	return info
}

// LNDBalance combines the wallet and channel balance responses. wallet may
// be nil for nodes without an on-chain wallet.
func LNDBalance(wallet *lnrpc.WalletBalanceResponse, ch *lnrpc.ChannelBalanceResponse) lnunify.Balance {
	var bal lnunify.Balance
	if wallet != nil {
		bal.Onchain = &lnunify.OnchainBalance{
			TotalSat:       wallet.GetTotalBalance(),
			ConfirmedSat:   wallet.GetConfirmedBalance(),
			UnconfirmedSat: wallet.GetUnconfirmedBalance(),
			LockedSat:      wallet.GetLockedBalance(),
		}
	}

	local := amountMsat(ch.GetLocalBalance(), ch.GetBalance())
	remote := amountMsat(ch.GetRemoteBalance(), 0)
	bal.Lightning = lnunify.LightningBalance{
		LocalSat:          MsatToSat(local),
		LocalMsat:         local,
		RemoteSat:         MsatToSat(remote),
		RemoteMsat:        remote,
		PendingOpenSat:    MsatToSat(amountMsat(ch.GetPendingOpenLocalBalance(), ch.GetPendingOpenBalance())),
		UnsettledLocalSat: MsatToSat(amountMsat(ch.GetUnsettledLocalBalance(), 0)),
	}
	return bal
}

// amountMsat reads an lnrpc.Amount, falling back to a deprecated satoshi
// value.
func amountMsat(a *lnrpc.Amount, deprecatedSat int64) int64 {
	if a != nil {
		if a.GetMsat() != 0 {
			return int64(a.GetMsat())
		}
		if a.GetSat() != 0 {
			return SatToMsat(int64(a.GetSat()))
		}
	}
	return SatToMsat(deprecatedSat)
}

func LNDChannel(c *lnrpc.Channel) lnunify.Channel {
	csv := c.GetLocalConstraints().GetCsvDelay()
	if csv == 0 {
		csv = c.GetCsvDelay()
	}
	localReserve := int64(c.GetLocalConstraints().GetChanReserveSat())
	if localReserve == 0 {
		localReserve = c.GetLocalChanReserveSat()
	}
	remoteReserve := int64(c.GetRemoteConstraints().GetChanReserveSat())
	if remoteReserve == 0 {
		remoteReserve = c.GetRemoteChanReserveSat()
	}

	return lnunify.Channel{
		ChannelID:        strconv.FormatUint(c.GetChanId(), 10),
		ShortChannelID:   lnwire.NewShortChanIDFromInt(c.GetChanId()).AltString(),
		ChannelPoint:     c.GetChannelPoint(),
		RemotePubkey:     c.GetRemotePubkey(),
		Alias:            c.GetPeerAlias(),
		Status:           lnunify.ChannelOpen,
		Active:           c.GetActive(),
		Private:          c.GetPrivate(),
		Initiator:        c.GetInitiator(),
		CapacitySat:      c.GetCapacity(),
		LocalSat:         c.GetLocalBalance(),
		LocalMsat:        SatToMsat(c.GetLocalBalance()),
		RemoteSat:        c.GetRemoteBalance(),
		RemoteMsat:       SatToMsat(c.GetRemoteBalance()),
		LocalReserveSat:  localReserve,
		RemoteReserveSat: remoteReserve,
		TotalSentSat:     c.GetTotalSatoshisSent(),
		TotalReceivedSat: c.GetTotalSatoshisReceived(),
		NumUpdates:       c.GetNumUpdates(),
		CSVDelay:         csv,
		CloseAddress:     c.GetCloseAddress(),
	}
}

func lndPendingChannel(p *lnrpc.PendingChannelsResponse_PendingChannel,
	status lnunify.ChannelStatus) lnunify.Channel {

	return lnunify.Channel{
		ChannelPoint:     p.GetChannelPoint(),
		RemotePubkey:     p.GetRemoteNodePub(),
		Status:           status,
		Private:          p.GetPrivate(),
		Initiator:        p.GetInitiator() == lnrpc.Initiator_INITIATOR_LOCAL,
		CapacitySat:      p.GetCapacity(),
		LocalSat:         p.GetLocalBalance(),
		LocalMsat:        SatToMsat(p.GetLocalBalance()),
		RemoteSat:        p.GetRemoteBalance(),
		RemoteMsat:       SatToMsat(p.GetRemoteBalance()),
		LocalReserveSat:  p.GetLocalChanReserveSat(),
		RemoteReserveSat: p.GetRemoteChanReserveSat(),
	}
}

// LNDPendingChannels flattens the pending channel categories.
func LNDPendingChannels(r *lnrpc.PendingChannelsResponse) []lnunify.Channel {
	var out []lnunify.Channel
	for _, p := range r.GetPendingOpenChannels() {
		out = append(out, lndPendingChannel(p.GetChannel(), lnunify.ChannelPendingOpen))
	}
	for _, p := range r.GetWaitingCloseChannels() {
		out = append(out, lndPendingChannel(p.GetChannel(), lnunify.ChannelClosing))
	}
	for _, p := range r.GetPendingForceClosingChannels() {
		out = append(out, lndPendingChannel(p.GetChannel(), lnunify.ChannelClosing))
	}
	return out
}

func LNDClosedChannel(c *lnrpc.ChannelCloseSummary) lnunify.Channel {
	return lnunify.Channel{
		ChannelID:      strconv.FormatUint(c.GetChanId(), 10),
		ShortChannelID: lnwire.NewShortChanIDFromInt(c.GetChanId()).AltString(),
		ChannelPoint:   c.GetChannelPoint(),
		RemotePubkey:   c.GetRemotePubkey(),
		Status:         lnunify.ChannelClosed,
		State:          c.GetCloseType().String(),
		CapacitySat:    c.GetCapacity(),
		LocalSat:       c.GetSettledBalance(),
		LocalMsat:      SatToMsat(c.GetSettledBalance()),
	}
}

func lndInvoiceState(s lnrpc.Invoice_InvoiceState) lnunify.InvoiceState {
	switch s {
	case lnrpc.Invoice_SETTLED:
		return lnunify.InvoiceSettled
	case lnrpc.Invoice_CANCELED:
		return lnunify.InvoiceCanceled
	case lnrpc.Invoice_ACCEPTED:
		return lnunify.InvoiceAccepted
	default:
		return lnunify.InvoiceOpen
	}
}

func LNDInvoice(inv *lnrpc.Invoice) lnunify.Invoice {
	value := inv.GetValueMsat()
	if value == 0 {
		value = SatToMsat(inv.GetValue())
	}
	paid := inv.GetAmtPaidMsat()
	if paid == 0 {
		paid = SatToMsat(inv.GetAmtPaidSat())
	}

	state := lndInvoiceState(inv.GetState())
	if inv.GetSettled() && state == lnunify.InvoiceOpen {
		state = lnunify.InvoiceSettled
	}

	out := lnunify.Invoice{
		PaymentHash:    hex.EncodeToString(inv.GetRHash()),
		Preimage:       hex.EncodeToString(inv.GetRPreimage()),
		PaymentRequest: inv.GetPaymentRequest(),
		Memo:           inv.GetMemo(),
		ValueSat:       MsatToSat(value),
		ValueMsat:      value,
		AmountPaidSat:  MsatToSat(paid),
		AmountPaidMsat: paid,
		State:          state,
		CreatedAt:      inv.GetCreationDate(),
		SettledAt:      inv.GetSettleDate(),
		IsKeysend:      inv.GetIsKeysend(),
		IsAMP:          inv.GetIsAmp(),
		Private:        inv.GetPrivate(),
	}
	if inv.GetCreationDate() > 0 && inv.GetExpiry() > 0 {
		out.ExpiresAt = inv.GetCreationDate() + inv.GetExpiry()
	}
	return out
}

// LNDAddInvoice builds the canonical invoice right after creation, lnd only
// returns hash and payment request.
func LNDAddInvoice(r *lnrpc.AddInvoiceResponse, req lnunify.CreateInvoiceRequest) lnunify.Invoice {
	msat := req.AmountMsat()
	return lnunify.Invoice{
		PaymentHash:    hex.EncodeToString(r.GetRHash()),
		PaymentRequest: r.GetPaymentRequest(),
		Memo:           req.Memo,
		ValueSat:       MsatToSat(msat),
		ValueMsat:      msat,
		State:          lnunify.InvoiceOpen,
		IsAMP:          req.IsAMP,
		Private:        req.Private,
	}
}

func lndPaymentStatus(s lnrpc.Payment_PaymentStatus) lnunify.PaymentStatus {
	switch s {
	case lnrpc.Payment_SUCCEEDED:
		return lnunify.PaymentSucceeded
	case lnrpc.Payment_FAILED:
		return lnunify.PaymentFailed
	case lnrpc.Payment_IN_FLIGHT, lnrpc.Payment_INITIATED:
		return lnunify.PaymentInFlight
	default:
		return lnunify.PaymentUnknown
	}
}

func LNDPayment(p *lnrpc.Payment) lnunify.Payment {
	value := p.GetValueMsat()
	if value == 0 {
		value = SatToMsat(p.GetValueSat())
	}
	if value == 0 {
		value = SatToMsat(p.GetValue())
	}
	fee := p.GetFeeMsat()
	if fee == 0 {
		fee = SatToMsat(p.GetFeeSat())
	}
	if fee == 0 {
		fee = SatToMsat(p.GetFee())
	}

	created := p.GetCreationTimeNs() / 1e9
	if created == 0 {
		created = p.GetCreationDate()
	}

	out := lnunify.Payment{
		PaymentHash:    p.GetPaymentHash(),
		Preimage:       p.GetPaymentPreimage(),
		PaymentRequest: p.GetPaymentRequest(),
		ValueSat:       MsatToSat(value),
		ValueMsat:      value,
		FeeSat:         MsatToSat(fee),
		FeeMsat:        fee,
		Status:         lndPaymentStatus(p.GetStatus()),
		CreatedAt:      created,
	}
	if p.GetFailureReason() != lnrpc.PaymentFailureReason_FAILURE_REASON_NONE {
		out.FailureReason = p.GetFailureReason().String()
	}
	// The preimage of unsettled payments is all zeros.
	if out.Preimage == "0000000000000000000000000000000000000000000000000000000000000000" {
		out.Preimage = ""
	}
	if htlcs := p.GetHtlcs(); len(htlcs) > 0 {
		if hops := htlcs[len(htlcs)-1].GetRoute().GetHops(); len(hops) > 0 {
			out.Destination = hops[len(hops)-1].GetPubKey()
		}
	}
	return out
}

func LNDTransaction(tx *lnrpc.Transaction) lnunify.Transaction {
	var addrs []string
	for _, o := range tx.GetOutputDetails() {
		if o.GetAddress() != "" {
			addrs = append(addrs, o.GetAddress())
		}
	}
	if len(addrs) == 0 {
		addrs = append(addrs, tx.GetDestAddresses()...)
	}
	return lnunify.Transaction{
		TxID:             tx.GetTxHash(),
		AmountSat:        tx.GetAmount(),
		FeeSat:           tx.GetTotalFees(),
		BlockHeight:      tx.GetBlockHeight(),
		BlockHash:        tx.GetBlockHash(),
		NumConfirmations: tx.GetNumConfirmations(),
		Timestamp:        tx.GetTimeStamp(),
		DestAddresses:    addrs,
		Label:            tx.GetLabel(),
	}
}

func LNDUTXO(u *lnrpc.Utxo) lnunify.UTXO {
	out := lnunify.UTXO{
		Address:       u.GetAddress(),
		AddressType:   u.GetAddressType().String(),
		AmountSat:     u.GetAmountSat(),
		Confirmations: u.GetConfirmations(),
		Status:        "confirmed",
	}
	if op := u.GetOutpoint(); op != nil {
		out.Outpoint = op.GetTxidStr() + ":" + strconv.FormatUint(uint64(op.GetOutputIndex()), 10)
	}
	if u.GetConfirmations() == 0 {
		out.Status = "unconfirmed"
	}
	return out
}

func LNDPayReq(p *lnrpc.PayReq) lnunify.PayReq {
	msat := p.GetNumMsat()
	if msat == 0 {
		msat = SatToMsat(p.GetNumSatoshis())
	}
	return lnunify.PayReq{
		Destination:     p.GetDestination(),
		PaymentHash:     p.GetPaymentHash(),
		NumSat:          MsatToSat(msat),
		NumMsat:         msat,
		Description:     p.GetDescription(),
		DescriptionHash: p.GetDescriptionHash(),
		Timestamp:       p.GetTimestamp(),
		Expiry:          p.GetExpiry(),
		CLTVExpiry:      p.GetCltvExpiry(),
		FallbackAddr:    p.GetFallbackAddr(),
	}
}

func LNDFeeReport(r *lnrpc.FeeReportResponse) lnunify.FeeReport {
	out := lnunify.FeeReport{
		ChannelFees: make([]lnunify.ChannelFee, 0, len(r.GetChannelFees())),
		DayFeeSat:   int64(r.GetDayFeeSum()),
		WeekFeeSat:  int64(r.GetWeekFeeSum()),
		MonthFeeSat: int64(r.GetMonthFeeSum()),
	}
	for _, f := range r.GetChannelFees() {
		out.ChannelFees = append(out.ChannelFees, lnunify.ChannelFee{
			ChannelID:    strconv.FormatUint(f.GetChanId(), 10),
			ChannelPoint: f.GetChannelPoint(),
			BaseFeeMsat:  f.GetBaseFeeMsat(),
			FeeRatePPM:   f.GetFeePerMil(),
		})
	}
	return out
}

// LNDChannelPoint formats a channel point as txid:index.
func LNDChannelPoint(cp *lnrpc.ChannelPoint) string {
	if cp == nil {
		return ""
	}
	txid := cp.GetFundingTxidStr()
	if txid == "" {
		if h, err := chainhash.NewHash(cp.GetFundingTxidBytes()); err == nil {
			txid = h.String()
		}
	}
	return txid + ":" + strconv.FormatUint(uint64(cp.GetOutputIndex()), 10)
}

func LNDChannelEvent(u *lnrpc.ChannelEventUpdate) lnunify.ChannelEvent {
	switch u.GetType() {
	case lnrpc.ChannelEventUpdate_OPEN_CHANNEL:
		ch := LNDChannel(u.GetOpenChannel())
		return lnunify.ChannelEvent{
			Type:         lnunify.ChannelEventOpen,
			ChannelPoint: ch.ChannelPoint,
			Channel:      &ch,
		}
	case lnrpc.ChannelEventUpdate_CLOSED_CHANNEL:
		ch := LNDClosedChannel(u.GetClosedChannel())
		return lnunify.ChannelEvent{
			Type:         lnunify.ChannelEventClosed,
			ChannelPoint: ch.ChannelPoint,
			Channel:      &ch,
		}
	case lnrpc.ChannelEventUpdate_ACTIVE_CHANNEL:
		return lnunify.ChannelEvent{
			Type:         lnunify.ChannelEventActive,
			ChannelPoint: LNDChannelPoint(u.GetActiveChannel()),
		}
	case lnrpc.ChannelEventUpdate_INACTIVE_CHANNEL:
		return lnunify.ChannelEvent{
			Type:         lnunify.ChannelEventInactive,
			ChannelPoint: LNDChannelPoint(u.GetInactiveChannel()),
		}
	case lnrpc.ChannelEventUpdate_PENDING_OPEN_CHANNEL:
		p := u.GetPendingOpenChannel()
		var point string
		if h, err := chainhash.NewHash(p.GetTxid()); err == nil {
			point = h.String() + ":" + strconv.FormatUint(uint64(p.GetOutputIndex()), 10)
		}
		return lnunify.ChannelEvent{
			Type:         lnunify.ChannelEventPending,
			ChannelPoint: point,
		}
	default:
		return lnunify.ChannelEvent{
			Type:         lnunify.ChannelEventFullyReady,
			ChannelPoint: LNDChannelPoint(u.GetFullyResolvedChannel()),
		}
	}
}
