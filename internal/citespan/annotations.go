// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package citespan

import (
	"fmt"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	pdftypes "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/pdiddy/paperstruct/pkg/types"
)

// maxNameTreeDepth bounds the walk through a /Names /Dests tree.
const maxNameTreeDepth = 32

// LinkAnnotation is an internal link found on a page. DestPage is 0 when
// the target could not be resolved; DestY is nil when the target does not
// pin a vertical position.
type LinkAnnotation struct {
	Page     int
	Rect     types.BoundingBox
	DestPage int
	DestY    *float64
}

// destKey groups annotations that jump to the same place.
func (a LinkAnnotation) destKey() string {
	if a.DestY == nil {
		return fmt.Sprintf("%d", a.DestPage)
	}
	return fmt.Sprintf("%d:%.1f", a.DestPage, *a.DestY)
}

// ReadLinkAnnotations returns the internal link annotations of every page
// of the PDF at path. External URI, GoToR and Launch actions are skipped.
func ReadLinkAnnotations(path string) (map[int][]LinkAnnotation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	ctx, err := api.ReadContext(f, model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("counting pages of %s: %w", path, err)
	}

	r := &annotReader{xref: ctx.XRefTable, pageOf: make(map[int]int)}
	pages := make(map[int]pdftypes.Dict, ctx.PageCount)
	for n := 1; n <= ctx.PageCount; n++ {
		d, ref, _, err := ctx.PageDict(n, false)
		if err != nil || d == nil {
			continue
		}
		pages[n] = d
		if ref != nil {
			r.pageOf[int(ref.ObjectNumber)] = n
		}
	}

	out := make(map[int][]LinkAnnotation)
	for n := 1; n <= ctx.PageCount; n++ {
		if d, ok := pages[n]; ok {
			if links := r.pageLinks(n, d); len(links) > 0 {
				out[n] = links
			}
		}
	}
	return out, nil
}

type annotReader struct {
	xref   *model.XRefTable
	pageOf map[int]int

	named map[string]pdftypes.Object
}

func (r *annotReader) pageLinks(page int, d pdftypes.Dict) []LinkAnnotation {
	obj, ok := d.Find("Annots")
	if !ok {
		return nil
	}
	annots, err := r.xref.DereferenceArray(obj)
	if err != nil {
		return nil
	}

	var links []LinkAnnotation
	for _, o := range annots {
		ad, err := r.xref.DereferenceDict(o)
		if err != nil || ad == nil {
			continue
		}
		if st := ad.NameEntry("Subtype"); st == nil || *st != "Link" {
			continue
		}
		rect, ok := r.rect(ad, page)
		if !ok {
			continue
		}
		dest, ok := r.linkDest(ad)
		if !ok {
			continue
		}
		link := LinkAnnotation{Page: page, Rect: rect}
		link.DestPage, link.DestY = r.resolveDest(dest, 0)
		links = append(links, link)
	}
	return links
}

func (r *annotReader) rect(ad pdftypes.Dict, page int) (types.BoundingBox, bool) {
	obj, ok := ad.Find("Rect")
	if !ok {
		return types.BoundingBox{}, false
	}
	arr, err := r.xref.DereferenceArray(obj)
	if err != nil || len(arr) != 4 {
		return types.BoundingBox{}, false
	}
	var v [4]float64
	for i, o := range arr {
		o, _ = r.xref.Dereference(o)
		n, ok := number(o)
		if !ok {
			return types.BoundingBox{}, false
		}
		v[i] = n
	}
	return types.NewBoundingBox(page, v[0], v[1], v[2], v[3]), true
}

// linkDest returns the raw destination of a link: its /Dest entry, or the
// /D of a GoTo action. It reports false for every other action type.
func (r *annotReader) linkDest(ad pdftypes.Dict) (pdftypes.Object, bool) {
	if dest, ok := ad.Find("Dest"); ok && dest != nil {
		return dest, true
	}
	obj, ok := ad.Find("A")
	if !ok {
		return nil, false
	}
	action, err := r.xref.DereferenceDict(obj)
	if err != nil || action == nil {
		return nil, false
	}
	if s := action.NameEntry("S"); s == nil || *s != "GoTo" {
		return nil, false
	}
	d, ok := action.Find("D")
	return d, ok && d != nil
}

// resolveDest turns a destination into a page and optional y. Names and
// strings are looked up in the catalog's /Dests dictionary and /Names tree.
func (r *annotReader) resolveDest(obj pdftypes.Object, depth int) (int, *float64) {
	if depth > 4 {
		return 0, nil
	}
	obj, err := r.xref.Dereference(obj)
	if err != nil || obj == nil {
		return 0, nil
	}
	switch o := obj.(type) {
	case pdftypes.Array:
		return parseDestArray(o, r.pageOf)
	case pdftypes.Dict:
		if d, ok := o.Find("D"); ok {
			return r.resolveDest(d, depth+1)
		}
	case pdftypes.Name, pdftypes.StringLiteral, pdftypes.HexLiteral:
		if target, ok := r.lookupName(destName(o)); ok {
			return r.resolveDest(target, depth+1)
		}
	}
	return 0, nil
}

func (r *annotReader) lookupName(name string) (pdftypes.Object, bool) {
	if name == "" {
		return nil, false
	}
	if r.named == nil {
		r.named = make(map[string]pdftypes.Object)
		r.loadNamedDests()
	}
	o, ok := r.named[name]
	return o, ok
}

func (r *annotReader) loadNamedDests() {
	cat, err := r.xref.Catalog()
	if err != nil || cat == nil {
		return
	}
	if obj, ok := cat.Find("Dests"); ok {
		if dests, err := r.xref.DereferenceDict(obj); err == nil {
			for k, v := range dests {
				r.named[k] = v
			}
		}
	}
	if obj, ok := cat.Find("Names"); ok {
		names, err := r.xref.DereferenceDict(obj)
		if err != nil || names == nil {
			return
		}
		if root, ok := names.Find("Dests"); ok {
			r.walkNameTree(root, 0)
		}
	}
}

func (r *annotReader) walkNameTree(obj pdftypes.Object, depth int) {
	if depth > maxNameTreeDepth {
		return
	}
	node, err := r.xref.DereferenceDict(obj)
	if err != nil || node == nil {
		return
	}
	if o, ok := node.Find("Names"); ok {
		if arr, err := r.xref.DereferenceArray(o); err == nil {
			for i := 0; i+1 < len(arr); i += 2 {
				key, _ := r.xref.Dereference(arr[i])
				if name := destName(key); name != "" {
					if _, seen := r.named[name]; !seen {
						r.named[name] = arr[i+1]
					}
				}
			}
		}
	}
	if o, ok := node.Find("Kids"); ok {
		if kids, err := r.xref.DereferenceArray(o); err == nil {
			for _, k := range kids {
				r.walkNameTree(k, depth+1)
			}
		}
	}
}

// parseDestArray reads an explicit destination [page /XYZ left top zoom],
// [page /FitH top], [page /FitBH top] or [page /Fit]. The page is an
// indirect reference to a page object, or a 0-based index.
func parseDestArray(arr pdftypes.Array, pageOf map[int]int) (int, *float64) {
	if len(arr) == 0 {
		return 0, nil
	}
	page := 0
	switch p := arr[0].(type) {
	case pdftypes.IndirectRef:
		page = pageOf[int(p.ObjectNumber)]
	case *pdftypes.IndirectRef:
		if p != nil {
			page = pageOf[int(p.ObjectNumber)]
		}
	case pdftypes.Integer:
		page = p.Value() + 1
	}
	if page <= 0 || len(arr) < 2 {
		return page, nil
	}

	kind, _ := arr[1].(pdftypes.Name)
	topAt := -1
	switch string(kind) {
	case "XYZ":
		topAt = 3
	case "FitH", "FitBH":
		topAt = 2
	}
	if topAt < 0 || topAt >= len(arr) {
		return page, nil
	}
	if y, ok := number(arr[topAt]); ok {
		return page, &y
	}
	return page, nil
}

func destName(o pdftypes.Object) string {
	switch v := o.(type) {
	case pdftypes.Name:
		return string(v)
	case pdftypes.StringLiteral:
		s, err := pdftypes.StringLiteralToString(v)
		if err != nil {
			return v.Value()
		}
		return s
	case pdftypes.HexLiteral:
		s, err := pdftypes.HexLiteralToString(v)
		if err != nil {
			return ""
		}
		return s
	}
	return ""
}

func number(o pdftypes.Object) (float64, bool) {
	switch v := o.(type) {
	case pdftypes.Float:
		return v.Value(), true
	case pdftypes.Integer:
		return float64(v.Value()), true
	}
	return 0, false
}
