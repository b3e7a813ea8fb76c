package sandbox

import (
	"strings"

	"github.com/dop251/goja"
	"github.com/use-agent/ingester/document"
)

// XPathResult type constants, exposed to scripts under the same name.
var xpathResultTypes = map[string]int{
	"ANY_TYPE":                     0,
	"NUMBER_TYPE":                  1,
	"STRING_TYPE":                  2,
	"BOOLEAN_TYPE":                 3,
	"UNORDERED_NODE_ITERATOR_TYPE": 4,
	"ORDERED_NODE_ITERATOR_TYPE":   5,
	"UNORDERED_NODE_SNAPSHOT_TYPE": 6,
	"ORDERED_NODE_SNAPSHOT_TYPE":   7,
	"ANY_UNORDERED_NODE_TYPE":      8,
	"FIRST_ORDERED_NODE_TYPE":      9,
}

// frozen is a goja.DynamicObject whose properties scripts can read but
// never assign or delete.
type frozen struct {
	keys  []string
	props map[string]func() goja.Value
}

func newFrozen() *frozen {
	return &frozen{props: make(map[string]func() goja.Value)}
}

func (f *frozen) define(key string, get func() goja.Value) {
	if _, ok := f.props[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.props[key] = get
}

func (f *frozen) constant(key string, v goja.Value) {
	f.define(key, func() goja.Value { return v })
}

func (f *frozen) Get(key string) goja.Value {
	if get, ok := f.props[key]; ok {
		return get()
	}
	return nil
}

func (f *frozen) Set(string, goja.Value) bool { return false }
func (f *frozen) Delete(string) bool          { return false }
func (f *frozen) Keys() []string              { return append([]string(nil), f.keys...) }

func (f *frozen) Has(key string) bool {
	_, ok := f.props[key]
	return ok
}

// wrapDocument returns the script handle for doc, creating it once per
// document so that identity comparisons hold.
func (s *Sandbox) wrapDocument(doc *document.Document) goja.Value {
	if doc == nil {
		return goja.Null()
	}
	if obj, ok := s.docObjects[doc]; ok {
		return obj
	}
	rt := s.rt
	f := newFrozen()

	location := newFrozen()
	location.constant("href", rt.ToValue(doc.URL()))
	location.constant("toString", rt.ToValue(func(goja.FunctionCall) goja.Value { return rt.ToValue(doc.URL()) }))
	f.constant("location", rt.NewDynamicObject(location))
	f.constant("URL", rt.ToValue(doc.URL()))
	f.define("title", func() goja.Value { return rt.ToValue(doc.Title()) })
	f.define("documentElement", func() goja.Value {
		if els, err := doc.Elements(nil, "/html"); err == nil && len(els) > 0 {
			return s.wrapElement(els[0])
		}
		return goja.Null()
	})
	f.define("body", func() goja.Value { return s.first(doc, nil, "body") })
	f.constant("nodeName", rt.ToValue("#document"))
	f.constant("evaluate", rt.ToValue(func(call goja.FunctionCall) goja.Value {
		expr := call.Argument(0).String()
		scope := s.scopeArg(doc, call.Argument(1))
		els, err := doc.Elements(scope, expr)
		if err != nil {
			panic(rt.NewTypeError(err.Error()))
		}
		return s.xpathResult(els)
	}))
	f.constant("querySelectorAll", rt.ToValue(func(call goja.FunctionCall) goja.Value {
		return s.selectAll(doc, nil, call.Argument(0).String())
	}))
	f.constant("querySelector", rt.ToValue(func(call goja.FunctionCall) goja.Value {
		return s.first(doc, nil, call.Argument(0).String())
	}))
	f.constant("getElementsByTagName", rt.ToValue(func(call goja.FunctionCall) goja.Value {
		return s.selectAll(doc, nil, strings.ToLower(call.Argument(0).String()))
	}))

	obj := rt.NewDynamicObject(f)
	s.docObjects[doc] = obj
	s.handles[obj] = doc.Root()
	return obj
}

// wrapElement returns a fresh read-only handle for el.
func (s *Sandbox) wrapElement(el *document.Element) goja.Value {
	if el == nil {
		return goja.Null()
	}
	rt := s.rt
	f := newFrozen()
	name := el.NodeName()
	f.constant("nodeName", rt.ToValue(name))
	f.constant("tagName", rt.ToValue(name))
	f.define("textContent", func() goja.Value { return rt.ToValue(el.Text()) })
	f.define("innerHTML", func() goja.Value {
		h, _ := el.InnerHTML()
		return rt.ToValue(h)
	})
	f.define("outerHTML", func() goja.Value {
		h, _ := el.OuterHTML()
		return rt.ToValue(h)
	})
	f.define("href", func() goja.Value { return rt.ToValue(el.Href()) })
	f.define("ownerDocument", func() goja.Value { return s.wrapDocument(el.Owner()) })
	f.constant("getAttribute", rt.ToValue(func(call goja.FunctionCall) goja.Value {
		n := call.Argument(0).String()
		for _, a := range el.Node().Attr {
			if strings.EqualFold(a.Key, n) {
				return rt.ToValue(a.Val)
			}
		}
		return goja.Null()
	}))
	f.constant("querySelectorAll", rt.ToValue(func(call goja.FunctionCall) goja.Value {
		return s.selectAll(el.Owner(), el, call.Argument(0).String())
	}))
	f.constant("querySelector", rt.ToValue(func(call goja.FunctionCall) goja.Value {
		return s.first(el.Owner(), el, call.Argument(0).String())
	}))

	obj := rt.NewDynamicObject(f)
	s.handles[obj] = el
	return obj
}

// xpathResult mimics the iterator / snapshot interface of DOM XPathResult.
func (s *Sandbox) xpathResult(els []*document.Element) goja.Value {
	rt := s.rt
	next := 0
	f := newFrozen()
	f.constant("snapshotLength", rt.ToValue(len(els)))
	f.constant("iterateNext", rt.ToValue(func(goja.FunctionCall) goja.Value {
		if next >= len(els) {
			return goja.Null()
		}
		next++
		return s.wrapElement(els[next-1])
	}))
	f.constant("snapshotItem", rt.ToValue(func(call goja.FunctionCall) goja.Value {
		i := int(call.Argument(0).ToInteger())
		if i < 0 || i >= len(els) {
			return goja.Null()
		}
		return s.wrapElement(els[i])
	}))
	return rt.NewDynamicObject(f)
}

func (s *Sandbox) elements(els []*document.Element) goja.Value {
	out := make([]any, len(els))
	for i, el := range els {
		out[i] = s.wrapElement(el)
	}
	return s.rt.NewArray(out...)
}

func (s *Sandbox) selectAll(doc *document.Document, scope *document.Element, css string) goja.Value {
	els, err := doc.Select(scope, css)
	if err != nil {
		panic(s.rt.NewTypeError(err.Error()))
	}
	return s.elements(els)
}

func (s *Sandbox) first(doc *document.Document, scope *document.Element, css string) goja.Value {
	els, err := doc.Select(scope, css)
	if err != nil {
		panic(s.rt.NewTypeError(err.Error()))
	}
	if len(els) == 0 {
		return goja.Null()
	}
	return s.wrapElement(els[0])
}

// elementOf recovers the element behind a script handle. Document handles
// resolve to their root node.
func (s *Sandbox) elementOf(v goja.Value) (*document.Element, bool) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	el, ok := s.handles[obj]
	return el, ok
}

// documentOf recovers the document behind a document or element handle.
func (s *Sandbox) documentOf(v goja.Value) (*document.Document, bool) {
	el, ok := s.elementOf(v)
	if !ok {
		return nil, false
	}
	return el.Owner(), true
}

// scopeArg resolves an optional context node argument; nil means the root.
func (s *Sandbox) scopeArg(doc *document.Document, v goja.Value) *document.Element {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	el, ok := s.elementOf(v)
	if !ok || el.Owner() != doc {
		return nil
	}
	return el
}
