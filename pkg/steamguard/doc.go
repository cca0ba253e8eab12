// Package steamguard derives Steam Guard mobile authenticator codes.
//
// A code is five symbols drawn from a 26 character alphabet. It is computed
// with HMAC-SHA1 over the index of the current 30 second window, the same
// counter construction and dynamic truncation as RFC 4226, and then written
// in base 26 instead of decimal.
//
// # One-shot Example
//
//	code, err := steamguard.GenerateAuthCode(ctx, steamguard.Config{
//	    Secret: "STK7746GVMCHMNH5FBIAQXGPV3I7ZHRG",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(code)
//
// # Generator Example
//
// A Generator decodes the secret once and synchronizes with the Steam time
// endpoint in the background:
//
//	gen, err := steamguard.New(ctx, steamguard.Config{
//	    Secret:   "cnOgv/KdpLoP6Nbh0GMkXkPXALQ=",
//	    Encoding: secret.EncodingBase64,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Wait for the clock offset before using the corrected time
//	if _, err := gen.Wait(ctx); err != nil {
//	    log.Printf("clock sync failed, using local time: %v", err)
//	}
//
//	code, err := gen.Code()
//
// # Clock Synchronization
//
// Codes depend on the time, so a drifting local clock produces codes the
// server rejects. Generators read the offset stored in a steamtime.Clock,
// by default the process-wide steamtime.Default(). Set Config.Sync to
// SyncForce to refresh it or SyncDisabled to skip the request, or pin
// Config.Time when the timestamp is known.
//
// # Pure Derivation
//
// CalculateCode is a pure function of the key and a Unix millisecond
// timestamp and can be called from any goroutine:
//
//	code, err := steamguard.CalculateCode(key, time.Now().UnixMilli())
package steamguard
