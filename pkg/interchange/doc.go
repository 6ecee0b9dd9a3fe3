// Package interchange reads and writes line recordings in the exchange
// formats shared by agents, the server and external tooling.
//
// The minutes payload is a JSON array of heads:
//
//	[{"name": "press", "totalMinutes": 480, "subChannels": [
//	    {"name": "run", "isExclusion": false, "intervals": [[0, 200], [150, 300]]},
//	    {"name": "break", "isExclusion": true, "intervals": [[100, 120]]}]}]
//
// The clock payload replaces totalMinutes with a startClock/endClock pair and
// writes interval endpoints as "HH:MM" wall clock times. The msgpack payload
// has the minutes shape, binary encoded.
//
// Import is all-or-nothing: any malformed element fails the whole payload
// with an *ImportError and no heads are returned.
package interchange
