package sandbox

import (
	"log/slog"

	"github.com/dop251/goja"
	"github.com/use-agent/ingester/document"
	"github.com/use-agent/ingester/utility"
)

// utilities builds the helper bundle exposed as the utilities global.
func (s *Sandbox) utilities() goja.Value {
	rt := s.rt
	f := newFrozen()

	f.constant("debugPrint", rt.ToValue(func(call goja.FunctionCall) goja.Value {
		slog.Debug("scraper", "origin", s.origin, "message", call.Argument(0).String())
		return goja.Undefined()
	}))
	f.constant("trimString", rt.ToValue(func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(utility.Trim(call.Argument(0).String()))
	}))
	f.constant("gatherElementsOnXPath", rt.ToValue(func(call goja.FunctionCall) goja.Value {
		doc, scope := s.docAndScope(call.Argument(0), call.Argument(1))
		return s.elements(utility.ElementsMatching(doc, scope, call.Argument(2).String()))
	}))
	f.constant("select", rt.ToValue(func(call goja.FunctionCall) goja.Value {
		doc, scope := s.docAndScope(call.Argument(0), call.Argument(1))
		return s.elements(utility.SelectMatching(doc, scope, call.Argument(2).String()))
	}))
	f.constant("collectURLsWithSubstring", rt.ToValue(func(call goja.FunctionCall) goja.Value {
		doc, _ := s.documentOf(call.Argument(0))
		links := utility.LinksContaining(doc, call.Argument(1).String())
		out := make([]any, len(links))
		for i, l := range links {
			out[i] = l
		}
		return rt.NewArray(out...)
	}))
	f.constant("processDocuments", rt.ToValue(s.processDocuments))
	f.constant("loadDocument", rt.ToValue(func(call goja.FunctionCall) goja.Value {
		noop := rt.ToValue(func(goja.FunctionCall) goja.Value { return goja.Undefined() })
		return s.processDocuments(goja.FunctionCall{
			This: call.This,
			Arguments: []goja.Value{
				goja.Null(),
				rt.NewArray(call.Argument(0).String()),
				call.Argument(1),
				noop,
				call.Argument(2),
			},
		})
	}))
	f.constant("HTTPUtilities", s.httpUtilities())
	return rt.NewDynamicObject(f)
}

// docAndScope resolves the (doc, parentNode) argument pair shared by the
// element helpers.
func (s *Sandbox) docAndScope(docArg, parentArg goja.Value) (*document.Document, *document.Element) {
	doc, ok := s.documentOf(docArg)
	if !ok {
		return nil, nil
	}
	return doc, s.scopeArg(doc, parentArg)
}

// processDocuments(firstDoc, urls, processor, done, exception) runs the
// fetch pipeline. processor receives (doc, proceed); done and exception
// are optional. Pipeline errors go to exception, or to the log without it.
func (s *Sandbox) processDocuments(call goja.FunctionCall) goja.Value {
	rt := s.rt
	if s.opts.Runner == nil {
		panic(rt.NewTypeError("processDocuments: no browsing context available"))
	}

	var first *document.Document
	if arg := call.Argument(0); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
		doc, ok := s.documentOf(arg)
		if !ok {
			panic(rt.NewTypeError("processDocuments: firstDoc is not a document"))
		}
		first = doc
	}
	var urls []string
	if arg := call.Argument(1); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
		if err := rt.ExportTo(arg, &urls); err != nil {
			panic(rt.NewTypeError("processDocuments: urls must be an array of strings"))
		}
	}
	processor, ok := goja.AssertFunction(call.Argument(2))
	if !ok {
		panic(rt.NewTypeError("processDocuments: processor is not a function"))
	}
	done, _ := goja.AssertFunction(call.Argument(3))
	exception, _ := goja.AssertFunction(call.Argument(4))

	process := func(doc *document.Document, proceed func()) error {
		return s.loop.call(func() error {
			next := rt.ToValue(func(goja.FunctionCall) goja.Value {
				proceed()
				return goja.Undefined()
			})
			_, err := s.invoke(processor, s.wrapDocument(doc), next)
			return err
		})
	}
	onDone := func() {
		s.callback("processDocuments.done", done, func() []goja.Value { return nil })
	}
	onError := func(err error) {
		if exception == nil {
			slog.Warn("sandbox: processDocuments failed", "origin", s.origin, "error", err)
			return
		}
		s.callback("processDocuments.exception", exception, func() []goja.Value {
			return []goja.Value{rt.NewGoError(err)}
		})
	}

	if err := s.opts.Runner.Run(s.ctx, first, urls, process, onDone, onError); err != nil {
		panic(rt.NewGoError(err))
	}
	return goja.Undefined()
}

// httpUtilities exposes doGet(url, onStatus, onDone), doPost(url, body,
// onStatus, onDone) and doOptions(url, body, onStatus, onDone).
func (s *Sandbox) httpUtilities() goja.Value {
	rt := s.rt
	f := newFrozen()

	request := func(method string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			if s.opts.HTTP == nil {
				panic(rt.NewTypeError("HTTPUtilities: network access is disabled"))
			}
			target := call.Argument(0).String()
			next := 1
			var body string
			if method != "GET" {
				body = call.Argument(1).String()
				next = 2
			}
			onStatus, hasStatus := goja.AssertFunction(call.Argument(next))
			onDone, _ := goja.AssertFunction(call.Argument(next + 1))

			var statusFn utility.StatusFunc
			if hasStatus {
				statusFn = func(code int, text string) {
					s.callback("HTTPUtilities.onStatus", onStatus, func() []goja.Value {
						return []goja.Value{rt.ToValue(code), rt.ToValue(text)}
					})
				}
			}
			doneFn := func(body string) {
				s.callback("HTTPUtilities.onDone", onDone, func() []goja.Value {
					return []goja.Value{rt.ToValue(body)}
				})
			}

			switch method {
			case "GET":
				s.opts.HTTP.Get(s.ctx, target, statusFn, doneFn)
			case "POST":
				s.opts.HTTP.Post(s.ctx, target, body, statusFn, doneFn)
			default:
				s.opts.HTTP.Options(s.ctx, target, body, statusFn, doneFn)
			}
			return goja.Undefined()
		}
	}

	f.constant("doGet", rt.ToValue(request("GET")))
	f.constant("doPost", rt.ToValue(request("POST")))
	f.constant("doOptions", rt.ToValue(request("OPTIONS")))
	return rt.NewDynamicObject(f)
}
