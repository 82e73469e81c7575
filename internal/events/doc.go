// Package events decodes push-channel frames into typed job events.
//
// Parsing is total: a frame either yields exactly one event or it is dropped.
// There is no error outcome, so a single malformed frame can never terminate
// the stream that carried it.
//
// # Frame shapes
//
//	{"type":"status", "status":"RUNNING", "progress":40, "error":"..."}
//	{"type":"result", "result_url":"/results/x.mp4"}   // or "resultUrl"
//	{"type":"log", "message":"step1"}
//
// Status frames use delta semantics: absent fields leave the view unchanged.
//
// The Decoder type splits a text/event-stream body into frames.
package events
