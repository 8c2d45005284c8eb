package domain

import (
	"errors"
	"testing"
)

func TestEncodeModsEmpty(t *testing.T) {
	mask, err := EncodeMods(nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if mask != 0 {
		t.Fatalf("ожидали маску 0, получили %d", mask)
	}
}

func TestEncodeModsSimple(t *testing.T) {
	mask, err := EncodeMods([]string{"HD", "DT"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if mask != 8+64 {
		t.Fatalf("ожидали HD|DT = 72, получили %d", mask)
	}
}

func TestEncodeModsNCImpliesDT(t *testing.T) {
	mask, err := EncodeMods([]string{"NC"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if mask&64 == 0 {
		t.Fatalf("NC должен подразумевать DT, маска %d", mask)
	}
	if mask != 512+64 {
		t.Fatalf("ожидали NC|DT = 576, получили %d", mask)
	}
}

func TestEncodeModsPFImpliesSD(t *testing.T) {
	mask, err := EncodeMods([]string{"PF"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if mask != 16384+32 {
		t.Fatalf("ожидали PF|SD = 16416, получили %d", mask)
	}
}

func TestEncodeModsNoDoubleCount(t *testing.T) {
	// Импликация не должна удваивать уже присутствующий бит.
	mask, err := EncodeMods([]string{"NC", "DT"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if mask != 512+64 {
		t.Fatalf("ожидали NC|DT = 576, получили %d", mask)
	}
}

func TestEncodeModsUnknown(t *testing.T) {
	_, err := EncodeMods([]string{"HD", "XX"})
	if !errors.Is(err, ErrUnknownMod) {
		t.Fatalf("ожидали ErrUnknownMod, получили %v", err)
	}
}

func TestDecodeModsRoundTrip(t *testing.T) {
	cases := [][]string{
		{"HD"},
		{"HD", "HR"},
		{"NC"},
		{"PF", "HR"},
		{"EZ", "NF", "HT"},
		{"V2", "FL", "SO"},
	}
	for _, mods := range cases {
		mask, err := EncodeMods(mods)
		if err != nil {
			t.Fatalf("кодирование %v: %v", mods, err)
		}
		again, err := EncodeMods(DecodeMods(mask))
		if err != nil {
			t.Fatalf("повторное кодирование %v: %v", mods, err)
		}
		if again != mask {
			t.Fatalf("маска %d после decode/encode стала %d", mask, again)
		}
	}
}

func TestHasMod(t *testing.T) {
	mods := []string{"HD", "NC"}
	if !HasMod(mods, "NC") {
		t.Fatalf("ожидали найти NC")
	}
	if HasMod(mods, "DT") {
		t.Fatalf("DT нет в исходном списке")
	}
}
