package vars

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/smolenkov/conveyor/internal/domain"
)

// placeholderRe — синтаксис ссылки на переменную: ${VARIABLE_NAME}.
var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Resolution — результат подстановки переменных в конфигурацию узла.
type Resolution struct {
	// Values — конфигурация с реальными значениями. Передаётся executor'у.
	Values map[string]any

	// Display — конфигурация для логов и UI: секретные значения
	// заменены маской. Engine логирует только эту форму.
	Display map[string]any

	// SecretTainted — ключи конфигурации, в значение которых попала
	// хотя бы одна секретная переменная. Используется кэшем для
	// secret-маркера в fingerprint.
	SecretTainted map[string]bool
}

// Resolve подставляет переменные в строковые значения конфигурации.
//
// Строка, целиком состоящая из одного плейсхолдера ("${LIMIT}"),
// заменяется типизированным значением переменной; плейсхолдер внутри
// строки — текстовой интерполяцией. Map и slice обходятся рекурсивно.
//
// Ссылка на неизвестную переменную — ошибка UnknownVariableError;
// она относится только к этому узлу и не прерывает соседние ветки.
func Resolve(config map[string]any, variables domain.Variables) (*Resolution, error) {
	res := &Resolution{
		Values:        make(map[string]any, len(config)),
		Display:       make(map[string]any, len(config)),
		SecretTainted: make(map[string]bool),
	}

	for key, raw := range config {
		value, display, secret, err := resolveValue(raw, variables)
		if err != nil {
			return nil, fmt.Errorf("config key %q: %w", key, err)
		}
		res.Values[key] = value
		res.Display[key] = display
		if secret {
			res.SecretTainted[key] = true
		}
	}

	return res, nil
}

// resolveValue рекурсивно подставляет переменные в одно значение.
// Возвращает (реальное значение, отображаемое значение, задет ли секрет).
func resolveValue(raw any, variables domain.Variables) (any, any, bool, error) {
	switch v := raw.(type) {
	case string:
		return resolveString(v, variables)

	case map[string]any:
		values := make(map[string]any, len(v))
		display := make(map[string]any, len(v))
		secret := false
		for key, val := range v {
			rv, rd, rs, err := resolveValue(val, variables)
			if err != nil {
				return nil, nil, false, err
			}
			values[key] = rv
			display[key] = rd
			secret = secret || rs
		}
		return values, display, secret, nil

	case []any:
		values := make([]any, len(v))
		display := make([]any, len(v))
		secret := false
		for i, val := range v {
			rv, rd, rs, err := resolveValue(val, variables)
			if err != nil {
				return nil, nil, false, err
			}
			values[i] = rv
			display[i] = rd
			secret = secret || rs
		}
		return values, display, secret, nil

	default:
		// Числа, bool, nil — подстановка не нужна
		return raw, raw, false, nil
	}
}

// resolveString подставляет переменные в строку.
func resolveString(s string, variables domain.Variables) (any, any, bool, error) {
	matches := placeholderRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, s, false, nil
	}

	// Строка — ровно один плейсхолдер: сохраняем тип значения переменной
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		name := s[matches[0][2]:matches[0][3]]
		variable, ok := variables.Get(name)
		if !ok {
			return nil, nil, false, &UnknownVariableError{Name: name}
		}
		if variable.IsSecret {
			return variable.Value, domain.MaskedValue, true, nil
		}
		return variable.Value, variable.Value, false, nil
	}

	// Интерполяция внутри строки
	var value, display strings.Builder
	secret := false
	prev := 0
	for _, m := range matches {
		value.WriteString(s[prev:m[0]])
		display.WriteString(s[prev:m[0]])

		name := s[m[2]:m[3]]
		variable, ok := variables.Get(name)
		if !ok {
			return nil, nil, false, &UnknownVariableError{Name: name}
		}

		value.WriteString(stringify(variable.Value))
		if variable.IsSecret {
			display.WriteString(domain.MaskedValue)
			secret = true
		} else {
			display.WriteString(stringify(variable.Value))
		}
		prev = m[1]
	}
	value.WriteString(s[prev:])
	display.WriteString(s[prev:])

	return value.String(), display.String(), secret, nil
}

// stringify приводит значение переменной к строке для интерполяции.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

// References возвращает имена переменных, на которые ссылается строка.
func References(s string) []string {
	matches := placeholderRe.FindAllStringSubmatch(s, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}
