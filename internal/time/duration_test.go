package time

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMarshalJSON(t *testing.T) {
	testStruct := struct {
		D Duration `json:"pull_frequency"`
	}{D: Duration(2 * time.Minute)}

	data, err := json.Marshal(&testStruct)
	if err != nil {
		t.Fatal(err)
	}

	if string(data) != `{"pull_frequency":"2m0s"}` {
		t.Fatalf("exp 2m0s got %s", data)
	}
}

func TestUnmarshalJSON(t *testing.T) {
	cases := []struct {
		in  string
		exp time.Duration
	}{
		{`{"d":"2m"}`, 2 * time.Minute},
		{`{"d":"30s"}`, 30 * time.Second},
		{`{"d":"24h"}`, 24 * time.Hour},
	}

	for _, tc := range cases {
		testStruct := struct {
			D Duration `json:"d"`
		}{}

		if err := json.Unmarshal([]byte(tc.in), &testStruct); err != nil {
			t.Fatal(err)
		}

		if testStruct.D.Std() != tc.exp {
			t.Fatalf("%s: exp %s got %s", tc.in, tc.exp, testStruct.D)
		}
	}
}

func TestUnmarshalJSONRejectsMalformed(t *testing.T) {
	testStruct := struct {
		D Duration `json:"d"`
	}{}

	if err := json.Unmarshal([]byte(`{"d":"2 minutes"}`), &testStruct); err == nil {
		t.Fatal("exp parse error for bare words")
	}

	if err := json.Unmarshal([]byte(`{"d":120}`), &testStruct); err == nil {
		t.Fatal("exp parse error for bare number")
	}
}

func TestStd(t *testing.T) {
	d := Duration(30 * time.Second)
	if d.Std() != 30*time.Second {
		t.Fatal("exp same duration")
	}
}

func TestString(t *testing.T) {
	d := Duration(24 * time.Hour)
	if d.String() != "24h0m0s" {
		t.Fatalf("exp 24h0m0s got %s", d)
	}
}
