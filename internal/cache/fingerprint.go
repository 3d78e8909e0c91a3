package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/smolenkov/conveyor/internal/vars"
)

// fingerprintPayload — канонический состав fingerprint.
//
// encoding/json сериализует map с сортировкой ключей, что даёт
// стабильное представление независимо от порядка обхода.
type fingerprintPayload struct {
	NodeType string         `json:"node_type"`
	Config   map[string]any `json:"config"`
	Upstream []string       `json:"upstream"`
}

// Fingerprint вычисляет стабильный хэш кэшируемой единицы работы:
// (тип узла, разрешённая конфигурация, fingerprints потреблённых входов).
//
// Значения конфигурации, в которые попали секретные переменные,
// заменяются маркером, производным от реального значения: смена секрета
// меняет fingerprint, но сам секрет в хэшируемом представлении
// не появляется в открытом виде.
func Fingerprint(nodeType string, resolution *vars.Resolution, upstream []string) (string, error) {
	config := make(map[string]any, len(resolution.Values))
	for key, value := range resolution.Values {
		if resolution.SecretTainted[key] {
			config[key] = secretMarker(value)
		} else {
			config[key] = value
		}
	}

	sorted := make([]string, len(upstream))
	copy(sorted, upstream)
	sort.Strings(sorted)

	payload, err := json.Marshal(fingerprintPayload{
		NodeType: nodeType,
		Config:   config,
		Upstream: sorted,
	})
	if err != nil {
		return "", fmt.Errorf("marshal fingerprint payload: %w", err)
	}

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// OutputFingerprint вычисляет хэш результата узла для использования
// в fingerprint зависимых узлов.
func OutputFingerprint(payload map[string]any, schema string) (string, error) {
	data, err := json.Marshal(map[string]any{
		"payload": payload,
		"schema":  schema,
	})
	if err != nil {
		return "", fmt.Errorf("marshal output: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// secretMarker возвращает маркер секретного значения: хэш меняется
// вместе со значением, но значение не раскрывается.
func secretMarker(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", value))
	}
	sum := sha256.Sum256(data)
	return "secret:" + hex.EncodeToString(sum[:])
}
