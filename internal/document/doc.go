// Package document provides the editable text store that backs a console.
//
// A Document is addressed by byte offsets and split into lines by a single
// configured line delimiter. Every mutation is reported synchronously to the
// registered listeners after it has been applied, in registration order.
//
// Basic usage:
//
//	doc := document.New(document.WithLineEnding(document.LineEndingLF))
//	doc.AddListener(listener)
//	_ = doc.Replace(doc.Len(), 0, "hello\n") // listener sees ChangeEvent{Offset: 0, Text: "hello\n"}
//
// Thread Safety:
//
// All Document methods are safe for concurrent use. Listeners are invoked
// without the document lock held, so a listener may read or mutate the
// document it is observing.
package document
