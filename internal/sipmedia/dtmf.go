// Package sipmedia implements the SIP media bin (C3): one SIP peer's RTP
// in/out, including the custom DTMF depayloader. Grounded on
// original_source/obelisk-main/src/media/sip_bin/custom_rtpdtmfdepay.rs for
// the depayload/dedup algorithm, and on the teacher's
// api/assistant-api/sip/infra RTP plumbing for the Go-idiomatic UDP/codec
// wiring.
package sipmedia

// DtmfEvent is emitted once per strictly-increasing RTP timestamp seen in
// an RFC 4733 telephone-event packet.
type DtmfEvent struct {
	Digit  uint8
	Volume uint8
}

// DtmfDepayloader tracks the last seen RTP timestamp and emits an event
// only when it strictly increases — deliberately ignoring the RTP marker
// bit, since many devices mis-set it and would otherwise cause duplicate
// events (see custom_rtpdtmfdepay.rs's comment on this exact point).
type DtmfDepayloader struct {
	lastTimestamp uint32
	hasLast       bool
}

// Process decodes an RFC 4733 telephone-event payload (event, end-bit,
// reserved-bit, volume, duration — the first byte is the event code, the
// second packs end/reserved/volume, and the trailing two bytes are
// duration, unused here) and reports whether a new digit event should fire
// for this RTP timestamp.
func (d *DtmfDepayloader) Process(timestamp uint32, payload []byte) (DtmfEvent, bool) {
	if len(payload) < 4 {
		return DtmfEvent{}, false
	}
	event := payload[0]
	volume := payload[1] & 0x3f

	if d.hasLast && timestamp <= d.lastTimestamp {
		return DtmfEvent{}, false
	}
	d.lastTimestamp = timestamp
	d.hasLast = true

	return DtmfEvent{Digit: event, Volume: volume}, true
}
