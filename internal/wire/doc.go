// Package wire defines the JSON messages exchanged between a master and its
// subscribers and controllers.
//
// Broadcast messages share one envelope:
//
//	{"type":"POSITION_OPENED","eventIndex":42,"timestamp":"2026-01-02T15:04:05.000Z",
//	 "platform":"MT5","accountId":"1234567","role":"master","data":{...}}
//
// Every envelope travels under a topic (EVENT, SNAPSHOT or HEARTBEAT) so
// subscribers can filter without decoding. Only EVENT messages advance the
// event index; snapshots and heartbeats carry the index of the last event
// published before them.
//
// Commands are single JSON objects {"action":"STATUS",...} answered by a reply
// that always carries success, action and timestamp.
//
// All encoding goes through Marshal and Unmarshal.
package wire
