// Package worker serialises signing requests through a single goroutine.
//
// A Worker owns a signer (normally a *vault.Sealed) and processes requests
// one at a time in submission order. Callers on any goroutine use Submit
// and block until their request completes or their context ends.
//
//	w := worker.New(sealed, worker.WithMetrics(worker.NewMetrics(reg)))
//	go w.Run(ctx)
//	defer w.Stop()
//	signed, err := w.Submit(ctx, model.PsbtRequest{Packet: p})
//
// Each request is tagged with a UUIDv7 for log correlation.
package worker
