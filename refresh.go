package ddns

import (
	"context"
	"net/netip"
)

// Outcome describes how a single reconciliation cycle ended.
type Outcome int

const (
	OutcomeUnchanged Outcome = iota
	OutcomeUpdated
	OutcomeNoExternalIP
	OutcomeNoRecord
	OutcomeUpdateFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeUpdated:
		return "updated"
	case OutcomeNoExternalIP:
		return "no_external_ip"
	case OutcomeNoRecord:
		return "no_record"
	case OutcomeUpdateFailed:
		return "update_failed"
	}
	return "unknown"
}

// Observation pairs the two addresses compared during a cycle.
// Either side is the zero netip.Addr when it could not be observed.
type Observation struct {
	External  netip.Addr
	Published netip.Addr
}

// Result is returned by Refresh so that callers can count outcomes.
// Everything it reports has already been logged.
type Result struct {
	Outcome  Outcome
	Observed Observation
}

// Refresh runs one reconciliation cycle for domain.
//
// It asks ips for the current external address and ns for the published record,
// and calls ns.SetRecord only when the two differ.
// Any failure ends the cycle early; nothing is retried until the next call.
// The written record is not read back, the next cycle's lookup confirms it.
func Refresh(ctx context.Context, ips IPProvider, ns Nameserver, domain string, log Logger) (res Result) {
	if log == nil {
		log = Discard
	}

	externalIP, err := ips.ExternalIP(ctx, log)
	if err != nil {
		log.Criticalf("could not obtain a valid IP address from the external IP provider: %s", err)
		res.Outcome = OutcomeNoExternalIP
		return res
	}
	res.Observed.External = externalIP

	current, err := ns.RecordByName(ctx, domain, log)
	if err != nil {
		log.Criticalf("could not obtain the current DNS record for %s: %s", domain, err)
		res.Outcome = OutcomeNoRecord
		return res
	}
	res.Observed.Published = current.IP()

	if externalIP == current.IP() {
		log.Debugf("refresh ran for %s; no external IP change detected (%s)", domain, externalIP)
		res.Outcome = OutcomeUnchanged
		return res
	}

	desired, err := NewRecord(externalIP, domain)
	if err != nil {
		log.Errorf("unable to build DNS record for %s: %s", domain, err)
		res.Outcome = OutcomeUpdateFailed
		return res
	}
	if err := ns.SetRecord(ctx, desired, log); err != nil {
		log.Warnf("update of %s from %s to %s was not confirmed; it will be retried next cycle", current.Name(), current.IP(), externalIP)
		res.Outcome = OutcomeUpdateFailed
		return res
	}
	log.Infof("external IP changed; DNS record %s now points to %s (was %s)", current.Name(), externalIP, current.IP())
	res.Outcome = OutcomeUpdated
	return res
}
