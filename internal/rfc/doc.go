// Package rfc is the remote function call bridge.
//
// A call goes through a fixed pipeline:
//
//	decode envelope -> resolve schema -> marshal parameters ->
//	[open session] -> execute -> [commit, close session] -> extract results
//
// Any stage may fail with an *Error, whose Kind is one of a closed set.
// MapError turns it into the response status and error envelope.
//
// Destinations are external collaborators reached through the Destination
// and Session interfaces; the package holds no connection state of its own.
//
// Example:
//
//	bridge := rfc.NewBridge(registry,
//	    rfc.WithDefaultDestination("S4HANA"),
//	    rfc.WithCallTimeout(30*time.Second),
//	)
//	req, err := rfc.DecodeBody(body)
//	if err != nil {
//	    status, env := rfc.MapError(err, rfc.StatusLegacy)
//	    ...
//	}
//	req.FunctionName = "BAPI_PR_CREATE"
//	result, err := bridge.Call(ctx, req)
package rfc
