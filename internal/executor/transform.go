package executor

import (
	"context"
	"fmt"

	"github.com/smolenkov/conveyor/internal/domain"
)

// TransformExecutor — executor узла типа "transform".
//
// Объединяет payload'ы всех входов и накладывает сверху разрешённую
// конфигурацию узла — "pass-through с переопределением полей" для
// передачи данных между узлами. Тип детерминированный и кэшируемый:
// результат полностью определяется входами и конфигурацией.
type TransformExecutor struct{}

// Execute собирает выходной payload из входов и конфигурации.
func (e *TransformExecutor) Execute(_ context.Context, req *Request) (*domain.Output, error) {
	payload := make(map[string]any)

	// Входы в порядке объявления рёбер: поздние перекрывают ранние
	for _, input := range req.Inputs {
		if input.Output == nil {
			continue
		}
		for key, val := range input.Output.Payload {
			payload[key] = val
		}
	}

	// Конфигурация перекрывает входы
	for key, val := range req.Config {
		payload[key] = val
	}

	req.Log(domain.LogLevelDebug,
		fmt.Sprintf("transformed %d inputs into %d fields", len(req.Inputs), len(payload)))

	return &domain.Output{
		Payload: payload,
		Schema:  "json",
	}, nil
}
