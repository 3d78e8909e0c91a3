package domain

import "testing"

func TestNewVariablesNormalizesAndDeduplicates(t *testing.T) {
	vs := NewVariables([]Variable{
		{Name: "  limit ", Value: 5, Type: VariableTypeNumber},
		{Name: "LIMIT", Value: 10, Type: VariableTypeNumber},
		{Name: "token", Value: "raw", IsSecret: true},
	})

	v, ok := vs.Get("Limit")
	if !ok {
		t.Fatal("LIMIT not found")
	}
	if v.Value != 10 {
		t.Errorf("duplicate resolution: value = %v, want last entry 10", v.Value)
	}

	token, _ := vs.Get("TOKEN")
	if token.Type != VariableTypeSecret {
		t.Errorf("secret variable type = %s, want %s", token.Type, VariableTypeSecret)
	}
}

// Снимок переменных неизменяем: ни правка исходного списка после
// старта, ни мутация копии из Get не меняют значений run. Для
// IsLocked-переменных это гарантия, что значение доживёт до конца run.
func TestVariablesSnapshotIsImmutable(t *testing.T) {
	source := []Variable{
		{Name: "LIMIT", Value: 10, Type: VariableTypeNumber, IsLocked: true},
	}
	snapshot := NewVariables(source)

	// Правка исходного списка после снятия снимка не видна run'у
	source[0].Value = 99

	v, ok := snapshot.Get("LIMIT")
	if !ok {
		t.Fatal("LIMIT not found")
	}
	if v.Value != 10 {
		t.Errorf("snapshot value = %v, want 10", v.Value)
	}
	if !v.IsLocked {
		t.Error("IsLocked must survive the snapshot")
	}

	// Get возвращает копию: мутация результата не трогает снимок
	v.Value = 42
	again, _ := snapshot.Get("LIMIT")
	if again.Value != 10 {
		t.Errorf("snapshot mutated through Get result: %v", again.Value)
	}
}

func TestVariablesMaskedKeepsLockAndOriginal(t *testing.T) {
	vs := NewVariables([]Variable{
		{Name: "TOKEN", Value: "raw-token", IsSecret: true, IsLocked: true},
		{Name: "LIMIT", Value: 10, Type: VariableTypeNumber},
	})

	masked := vs.Masked()

	token := masked["TOKEN"]
	if token.Value != MaskedValue {
		t.Errorf("masked secret = %v, want %q", token.Value, MaskedValue)
	}
	if !token.IsLocked {
		t.Error("masking must not drop the lock")
	}
	if masked["LIMIT"].Value != 10 {
		t.Errorf("non-secret changed by masking: %v", masked["LIMIT"].Value)
	}

	// Исходный снимок остаётся с реальным значением
	if vs["TOKEN"].Value != "raw-token" {
		t.Errorf("original snapshot mutated: %v", vs["TOKEN"].Value)
	}
}
