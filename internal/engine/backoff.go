package engine

import (
	"math/rand/v2"
	"time"

	"github.com/smolenkov/conveyor/internal/domain"
)

// backoffDelay возвращает задержку перед повтором после attempt-й
// неудачной попытки: экспоненциальный рост от начальной задержки
// с потолком и джиттером в диапазоне [delay/2, delay].
//
// Джиттер обязателен: одновременно упавшие узлы одного тира не должны
// ретраиться синхронными волнами.
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := domain.DefaultInitialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= domain.DefaultMaxBackoff {
			delay = domain.DefaultMaxBackoff
			break
		}
	}

	half := delay / 2
	return half + rand.N(half+1)
}
