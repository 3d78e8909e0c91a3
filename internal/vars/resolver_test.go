package vars

import (
	"errors"
	"strings"
	"testing"

	"github.com/smolenkov/conveyor/internal/domain"
)

func testVariables() domain.Variables {
	return domain.NewVariables([]domain.Variable{
		{Name: "api_url", Value: "https://api.example.com", Type: domain.VariableTypeString},
		{Name: "LIMIT", Value: 100, Type: domain.VariableTypeNumber},
		{Name: "DRY_RUN", Value: true, Type: domain.VariableTypeBoolean},
		{Name: "API_KEY", Value: "s3cr3t-token", IsSecret: true},
	})
}

func TestResolve_Interpolation(t *testing.T) {
	res, err := Resolve(map[string]any{
		"url": "${API_URL}/v1/items",
	}, testVariables())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Values["url"] != "https://api.example.com/v1/items" {
		t.Errorf("unexpected value: %v", res.Values["url"])
	}
	if res.Display["url"] != res.Values["url"] {
		t.Error("non-secret display should equal value")
	}
}

func TestResolve_WholePlaceholderKeepsType(t *testing.T) {
	res, err := Resolve(map[string]any{
		"limit":   "${LIMIT}",
		"dry_run": "${DRY_RUN}",
	}, testVariables())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if limit, ok := res.Values["limit"].(int); !ok || limit != 100 {
		t.Errorf("limit should stay an int 100, got %T %v", res.Values["limit"], res.Values["limit"])
	}
	if dryRun, ok := res.Values["dry_run"].(bool); !ok || !dryRun {
		t.Errorf("dry_run should stay a bool, got %T", res.Values["dry_run"])
	}
}

func TestResolve_SecretMasking(t *testing.T) {
	res, err := Resolve(map[string]any{
		"header": "Bearer ${API_KEY}",
		"token":  "${API_KEY}",
	}, testVariables())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Реальные значения — для executor'а
	if res.Values["header"] != "Bearer s3cr3t-token" {
		t.Errorf("unexpected real value: %v", res.Values["header"])
	}
	if res.Values["token"] != "s3cr3t-token" {
		t.Errorf("unexpected real value: %v", res.Values["token"])
	}

	// Отображаемые — только маска
	if strings.Contains(res.Display["header"].(string), "s3cr3t") {
		t.Error("display form must not contain the secret")
	}
	if res.Display["header"] != "Bearer "+domain.MaskedValue {
		t.Errorf("unexpected display: %v", res.Display["header"])
	}
	if res.Display["token"] != domain.MaskedValue {
		t.Errorf("whole-secret display should be the mask, got %v", res.Display["token"])
	}

	if !res.SecretTainted["header"] || !res.SecretTainted["token"] {
		t.Error("both keys should be marked secret-tainted")
	}
}

func TestResolve_UnknownVariable(t *testing.T) {
	_, err := Resolve(map[string]any{
		"url": "${MISSING}/path",
	}, testVariables())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrUnknownVariable) {
		t.Errorf("expected ErrUnknownVariable, got %v", err)
	}

	var unknown *UnknownVariableError
	if !errors.As(err, &unknown) {
		t.Fatal("expected *UnknownVariableError")
	}
	if unknown.Name != "MISSING" {
		t.Errorf("expected MISSING, got %s", unknown.Name)
	}
}

func TestResolve_CaseInsensitiveNames(t *testing.T) {
	// Имена переменных нормализуются к верхнему регистру
	res, err := Resolve(map[string]any{
		"url": "${API_URL}",
	}, testVariables())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Values["url"] != "https://api.example.com" {
		t.Errorf("unexpected value: %v", res.Values["url"])
	}
}

func TestResolve_NestedStructures(t *testing.T) {
	res, err := Resolve(map[string]any{
		"request": map[string]any{
			"headers": map[string]any{"Authorization": "Bearer ${API_KEY}"},
			"params":  []any{"${LIMIT}", "plain"},
		},
	}, testVariables())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	request := res.Values["request"].(map[string]any)
	headers := request["headers"].(map[string]any)
	if headers["Authorization"] != "Bearer s3cr3t-token" {
		t.Errorf("nested secret not resolved: %v", headers["Authorization"])
	}

	params := request["params"].([]any)
	if params[0] != 100 {
		t.Errorf("nested whole placeholder should keep type, got %v", params[0])
	}

	if !res.SecretTainted["request"] {
		t.Error("request key should be secret-tainted")
	}

	displayRequest := res.Display["request"].(map[string]any)
	displayHeaders := displayRequest["headers"].(map[string]any)
	if displayHeaders["Authorization"] != "Bearer "+domain.MaskedValue {
		t.Errorf("nested display should be masked: %v", displayHeaders["Authorization"])
	}
}

func TestResolve_NonStringValuesPassThrough(t *testing.T) {
	res, err := Resolve(map[string]any{
		"count":   42,
		"enabled": false,
		"ratio":   0.5,
		"nothing": nil,
	}, testVariables())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Values["count"] != 42 || res.Values["enabled"] != false {
		t.Error("non-string values must pass through unchanged")
	}
}

func TestReferences(t *testing.T) {
	refs := References("${A}/${B_2}/plain/${A}")
	if len(refs) != 3 || refs[0] != "A" || refs[1] != "B_2" {
		t.Errorf("unexpected references: %v", refs)
	}
}
