// Package console implements the session core of an interactive
// read-eval-print console that lives inside an editable document.
//
// A Session listens for document changes. Each change is taken back out of
// the document, joined with whatever followed it, and split on the
// document's line delimiter. Text without a delimiter is echoed back as-is.
// The first complete command is echoed, dispatched to a Handler off the
// interactive goroutine, and its result is appended together with a fresh
// prompt once the Dispatcher posts the completion back.
//
// While the session edits the document on its own behalf it holds a Guard,
// which detaches it from the document so its own edits are never processed
// as input. The dispatch of a command holds one guard level across the
// asynchronous boundary, so at most one command is in flight and input that
// arrived together with it is replayed only after its result is printed.
//
// Typical wiring:
//
//	doc := document.New()
//	lp := loop.New()
//	d := console.NewDispatcher(handler, lp, lp)
//	s := console.New(doc, d, console.WithPrompt("js> "))
//	lp.Post(s.Clear)
//	go lp.Run(ctx)
//
// All Session methods must be called on the goroutine that owns the
// document (the loop goroutine above).
package console
