// Package vault implements the seal lifecycle around a signing key.
//
// A vault is provisioned as an Unsealed value: a seed is loaded and
// policies are added or removed. Seal converts it into a Sealed value
// that can only sign. There is no way back.
//
//	u := vault.New(vault.WithNetwork(&chaincfg.TestNet3Params))
//	if err := u.LoadSeed(seed); err != nil { ... }
//	if _, err := u.LoadPolicy(p); err != nil { ... }
//	s, err := u.Seal(entropy)
//	if err != nil { ... }   // u is still usable
//	defer s.Wipe()
//	signed, err := s.Sign(model.PsbtRequest{Packet: packet})
//
// Unsealed and Sealed share no methods that mutate. Each also carries a
// runtime state tag: an Unsealed value that has been sealed, or a Sealed
// value that has been wiped, rejects every call with model.ErrInvalidState.
//
// Unsealed must be owned by one goroutine. Sealed.Sign may be called
// concurrently; Wipe waits for in-flight signing to finish.
package vault
