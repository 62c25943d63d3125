package testutil

import (
	"testing"

	"github.com/tidwall/sjson"
)

// RPCMessage encodes a JSON-RPC 2.0 message for line-delimited transports.
// A zero id yields a notification. Params may be nil.
func RPCMessage(id int, method string, params any) ([]byte, error) {
	msg := []byte(`{"jsonrpc":"2.0"}`)
	var err error
	if id != 0 {
		if msg, err = sjson.SetBytes(msg, "id", id); err != nil {
			return nil, err
		}
	}
	if msg, err = sjson.SetBytes(msg, "method", method); err != nil {
		return nil, err
	}
	if params != nil {
		if msg, err = sjson.SetBytes(msg, "params", params); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

func MustRPCMessage(t testing.TB, id int, method string, params any) []byte {
	t.Helper()
	msg, err := RPCMessage(id, method, params)
	mustNoError(t, err, "encode %s message", method)
	return msg
}
