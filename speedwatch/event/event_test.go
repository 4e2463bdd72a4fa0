package event

import (
	"strings"
	"testing"
)

func TestMarshal_OmitsLifecycleFields(t *testing.T) {
	data, err := Marshal(&RateChange{ID: "x", Kind: KindAttach, ControllerID: "video-1-2-3", Tag: "video"})
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if strings.Contains(s, `"speed"`) || strings.Contains(s, `"source"`) {
		t.Fatalf("lifecycle record carries rate fields: %s", s)
	}
	if !strings.Contains(s, `"kind":"attach"`) {
		t.Fatalf("kind missing: %s", s)
	}
}

func TestUnmarshal_Rate(t *testing.T) {
	raw := `{"id":"e1","kind":"rate","page_id":"p","seq":3,"controller_id":"c","tag":"video","speed":1.5,"previous":1,"source":"external","timestamp":1708700000000}`
	e, err := Unmarshal([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if e.Kind != KindRate || e.Speed != 1.5 || e.Previous != 1 || e.Source != SourceExternal || e.Seq != 3 {
		t.Fatalf("decoded %+v", e)
	}
}

func TestUnmarshal_Invalid(t *testing.T) {
	if _, err := Unmarshal([]byte("{")); err == nil {
		t.Fatal("expected error")
	}
}
