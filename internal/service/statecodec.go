package service

import (
	"encoding/json"

	"pokerhall/card"
	"pokerhall/internal/engine"
)

func decodeState(raw json.RawMessage) (*engine.TableState, error) {
	s := &engine.TableState{}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, errCode(CodeStateInvalid, "state document unreadable: "+err.Error())
	}
	return s, nil
}

// encodeState marshals a document for the shared row, re-checking the
// storage invariants on the way out.
func encodeState(s *engine.TableState) (json.RawMessage, error) {
	if err := engine.ValidateForStorage(s); err != nil {
		return nil, mapEngineErr(err)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, errCode(CodeStateInvalid, "state not marshalable: "+err.Error())
	}
	return raw, nil
}

func holeToStrings(hole map[string][]card.Card) map[string][]string {
	out := make(map[string][]string, len(hole))
	for uid, cards := range hole {
		out[uid] = card.Strings(cards)
	}
	return out
}

func holeFromStrings(raw map[string][]string) (map[string][]card.Card, error) {
	out := make(map[string][]card.Card, len(raw))
	for uid, specs := range raw {
		cards, err := card.ParseAll(specs)
		if err != nil {
			return nil, errCode(CodeStateInvalid, "stored hole cards for "+uid+" unreadable: "+err.Error())
		}
		out[uid] = cards
	}
	return out, nil
}
