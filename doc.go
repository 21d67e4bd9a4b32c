/*
Package ddns keeps a single DNS "A" record pointed at the public IPv4 address of the host running it.

Usage will usually start with [ddns.New],
which returns the DDNSClient implementation.
New requires the domain name which will be updated and a [Nameserver] implementation for a DNS provider.
Each call to RunDDNS performs one reconciliation cycle:
the external address is looked up through an [IPProvider],
compared against the record published by the Nameserver,
and written back only when the two differ.

[RunDaemon] repeats the cycle on a fixed interval until its context is cancelled.
Failures inside a cycle are logged and never stop the daemon; the next cycle starts from scratch.
*/
package ddns
