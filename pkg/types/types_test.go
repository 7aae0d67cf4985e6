package types_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"testing"

	"github.com/MrWong99/photobox/pkg/types"
)

func TestNormalizeAttributes(t *testing.T) {
	t.Parallel()

	in := types.Attributes{
		types.AttrFilename: "a.jpg",
		types.AttrFilesize: float64(2048),
		types.AttrWidth:    float64(800),
		types.AttrHeight:   int64(600),
		types.AttrColor:    true,
		types.AttrKeywords: []any{"beach", "1998"},
		"camera":           "nikon",
	}
	got, err := types.NormalizeAttributes(in)
	if err != nil {
		t.Fatalf("NormalizeAttributes: %v", err)
	}
	if got[types.AttrFilesize] != int64(2048) {
		t.Errorf("filesize = %#v, want int64(2048)", got[types.AttrFilesize])
	}
	if got[types.AttrWidth] != 800 || got[types.AttrHeight] != 600 {
		t.Errorf("width/height = %#v/%#v, want 800/600", got[types.AttrWidth], got[types.AttrHeight])
	}
	if kw := got.Keywords(); !slices.Equal(kw, []string{"beach", "1998"}) {
		t.Errorf("keywords = %v", kw)
	}
	if got["camera"] != "nikon" {
		t.Errorf("unknown attribute not preserved: %#v", got["camera"])
	}
}

func TestNormalizeAttributes_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		attrs types.Attributes
	}{
		{"fractional width", types.Attributes{types.AttrWidth: 1.5}},
		{"string filesize", types.Attributes{types.AttrFilesize: "big"}},
		{"numeric name", types.Attributes{types.AttrName: 42}},
		{"mixed keywords", types.Attributes{types.AttrKeywords: []any{"ok", 3}}},
		{"string color", types.Attributes{types.AttrColor: "yes"}},
		{"filesize overflow", types.Attributes{types.AttrFilesize: uint64(math.MaxInt64) + 1}},
		{"infinite width", types.Attributes{types.AttrWidth: math.Inf(1)}},
		{"nan free-form", types.Attributes{"score": math.NaN()}},
		{"channel free-form", types.Attributes{"done": make(chan struct{})}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := types.NormalizeAttributes(tc.attrs); !errors.Is(err, types.ErrInvalidAttribute) {
				t.Fatalf("err = %v, want ErrInvalidAttribute", err)
			}
		})
	}
}

func TestNormalizeAttributes_IntegerWidths(t *testing.T) {
	t.Parallel()

	for _, v := range []any{int8(7), int16(7), uint(7), uint8(7), uint16(7), uint64(7), json.Number("7")} {
		got, err := types.NormalizeAttributes(types.Attributes{types.AttrFilesize: v})
		if err != nil {
			t.Errorf("filesize %T: %v", v, err)
			continue
		}
		if got[types.AttrFilesize] != int64(7) {
			t.Errorf("filesize %T = %#v, want int64(7)", v, got[types.AttrFilesize])
		}
	}
}

func TestNormalizeAttributes_FreeFormJSONShape(t *testing.T) {
	t.Parallel()

	type exif struct {
		ISO int `json:"iso"`
	}
	got, err := types.NormalizeAttributes(types.Attributes{
		"rating":  5,
		"stars":   float64(4),
		"ratio":   float32(0.25),
		"decoded": json.Number("1.5"),
		"tags":    []string{"dune"},
		"exif":    exif{ISO: 200},
		"camera":  "nikon",
		"flash":   false,
		"lens":    nil,
	})
	if err != nil {
		t.Fatalf("NormalizeAttributes: %v", err)
	}
	want := types.Attributes{
		"rating":  int64(5),
		"stars":   int64(4),
		"ratio":   0.25,
		"decoded": 1.5,
		"tags":    []any{"dune"},
		"exif":    map[string]any{"iso": int64(200)},
		"camera":  "nikon",
		"flash":   false,
		"lens":    nil,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got  %#v\nwant %#v", got, want)
	}
}

func TestAttributesCloneDoesNotAlias(t *testing.T) {
	t.Parallel()

	orig := types.Attributes{types.AttrKeywords: []string{"a"}}
	c := orig.Clone()
	c.Keywords()[0] = "b"
	if orig.Keywords()[0] != "a" {
		t.Fatal("Clone aliased the keywords slice")
	}
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	dup := fmt.Errorf("collection: new set: %w", &types.DuplicateKeyError{Index: "set_name", Key: "Nagy", Existing: 3})
	if !errors.Is(dup, types.ErrDuplicateKey) {
		t.Error("DuplicateKeyError should match ErrDuplicateKey")
	}
	var dke *types.DuplicateKeyError
	if !errors.As(dup, &dke) || dke.Existing != 3 {
		t.Errorf("errors.As DuplicateKeyError = %+v", dke)
	}

	cause := errors.New("connection refused")
	coll := types.Collaborator("flush", cause)
	if !errors.Is(coll, types.ErrCollaborator) || !errors.Is(coll, cause) {
		t.Errorf("CollaboratorError should match ErrCollaborator and its cause: %v", coll)
	}
	if errors.Is(coll, types.ErrNotFound) || errors.Is(coll, types.ErrDuplicateKey) {
		t.Error("CollaboratorError must not match model errors")
	}
	if again := types.Collaborator("outer", coll); again != coll {
		t.Error("Collaborator should not double-wrap")
	}
	if types.Collaborator("noop", nil) != nil {
		t.Error("Collaborator(nil) should be nil")
	}
}

func TestEntityKey(t *testing.T) {
	t.Parallel()

	set := types.Entity{ID: 1, Kind: types.KindSet, Attributes: types.Attributes{types.AttrName: "Families"}}
	pix := types.Entity{ID: 2, Kind: types.KindPix, Attributes: types.Attributes{types.AttrFilename: "a.jpg"}}
	if set.Key() != "Families" || pix.Key() != "a.jpg" {
		t.Fatalf("keys = %q, %q", set.Key(), pix.Key())
	}
	if types.Kind("view").IsValid() {
		t.Error("unexpected valid kind")
	}
}
