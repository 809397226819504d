package llm

import (
	"errors"
	"strings"
	"testing"
)

const validRoutineJSON = `{"routine":{"morning":[{"step":1,"product_name":"Gel Cleanser","product_url":"https://s/1","reasoning":"clears pores","how_to_use":"massage"}],` +
	`"evening":[{"step":1,"product_name":"BHA Toner","product_url":"https://s/2","reasoning":"exfoliates","how_to_use":"swipe"}]},` +
	`"weekly_treatments":[{"treatment_type":"mask","product_suggestion":"Clay","reasoning":"oil","how_to_use":"10 min"}],` +
	`"general_notes":["wear sunscreen"]}`

func TestParseRecord_Strict(t *testing.T) {
	rec, err := ParseRecord(validRoutineJSON)
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}
	if rec.Routine.Morning[0].ProductName != "Gel Cleanser" || len(rec.GeneralNotes) != 1 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestParseRecord_RepairsFencesProseAndTrailingCommas(t *testing.T) {
	messy := "Here is your routine:\n```json\n" +
		strings.Replace(validRoutineJSON, `"general_notes":["wear sunscreen"]}`, `"general_notes":["wear sunscreen",],}`, 1) +
		"\n```\nEnjoy!"
	rec, err := ParseRecord(messy)
	if err != nil {
		t.Fatalf("ParseRecord(messy): %v", err)
	}
	if rec.GeneralNotes[0] != "wear sunscreen" {
		t.Fatalf("unexpected notes %v", rec.GeneralNotes)
	}
}

func TestParseRecord_Failures(t *testing.T) {
	cases := map[string]string{
		"not json":        "I cannot help with that.",
		"truncated":       validRoutineJSON[:len(validRoutineJSON)/2],
		"missing evening": `{"routine":{"morning":[{"step":1,"product_name":"x","reasoning":"","how_to_use":""}],"evening":[]},"general_notes":[]}`,
		"empty":           "",
	}
	for name, in := range cases {
		if _, err := ParseRecord(in); !errors.Is(err, ErrMalformedOutput) {
			t.Fatalf("%s: err = %v; want ErrMalformedOutput", name, err)
		}
	}
}

func TestRemoveTrailingCommas_RespectsStrings(t *testing.T) {
	in := `{"a":"x,}","b":[1,2,],"c":"say \",]\" ok",}`
	want := `{"a":"x,}","b":[1,2],"c":"say \",]\" ok"}`
	if got := removeTrailingCommas(in); got != want {
		t.Fatalf("removeTrailingCommas:\n got %s\nwant %s", got, want)
	}
}

func TestBuildPrompt_IncludesProfileAndProducts(t *testing.T) {
	req := sampleRequest()
	system, user, err := buildPrompt(req)
	if err != nil {
		t.Fatal(err)
	}
	if system == "" {
		t.Fatal("empty system prompt")
	}
	for _, want := range []string{"Skin Type: Oily", "Primary Concern: Acne", "Salicylic acid", "Gel Cleanser", "3 to 4 steps"} {
		if !strings.Contains(user, want) {
			t.Fatalf("user prompt missing %q", want)
		}
	}

	req.Profile = nil
	req.Params.CommitmentLevel = ""
	_, user, _ = buildPrompt(req)
	if !strings.Contains(user, "Commitment Level: Standard") || !strings.Contains(user, "4 to 5 steps") {
		t.Fatalf("defaults not applied:\n%s", user)
	}
}
