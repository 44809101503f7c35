package logger

import (
	"os"
	"reflect"
	"testing"
)

type mockLogSink struct{}

func (mockLogSink) Info(level int, msg string, keysAndValues ...interface{}) {}

func BenchmarkLogger(b *testing.B) {
	b.ReportAllocs()
	b.ResetTimer()

	b.Run("Print", func(b *testing.B) {
		b.ReportAllocs()
		b.ResetTimer()

		logger := New(mockLogSink{}, 0, map[Component]Level{
			ComponentCommand: LevelDebug,
		})

		for i := 0; i < b.N; i++ {
			logger.Print(LevelInfo, &CommandStartedMessage{})
		}
	})
}

func TestSelectMaxDocumentLength(t *testing.T) {
	for _, tcase := range []struct {
		name     string
		arg      uint
		expected uint
		env      map[string]string
	}{
		{
			name:     "default",
			arg:      0,
			expected: DefaultMaxDocumentLength,
		},
		{
			name:     "non-zero",
			arg:      100,
			expected: 100,
		},
		{
			name:     "valid env",
			arg:      0,
			expected: 100,
			env: map[string]string{
				maxDocumentLengthEnvVar: "100",
			},
		},
		{
			name:     "invalid env",
			arg:      0,
			expected: DefaultMaxDocumentLength,
			env: map[string]string{
				maxDocumentLengthEnvVar: "foo",
			},
		},
	} {
		tcase := tcase

		t.Run(tcase.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tcase.env {
				os.Setenv(k, v)
			}

			actual := selectMaxDocumentLength(
				func() uint { return tcase.arg },
				getEnvMaxDocumentLength,
			)
			if actual != tcase.expected {
				t.Errorf("expected %d, got %d", tcase.expected, actual)
			}
		})
	}
}

func TestSelectLogSink(t *testing.T) {
	for _, tcase := range []struct {
		name     string
		arg      LogSink
		expected LogSink
		env      map[string]string
	}{
		{
			name:     "default",
			arg:      nil,
			expected: newOSSink(os.Stderr),
		},
		{
			name:     "non-nil",
			arg:      mockLogSink{},
			expected: mockLogSink{},
		},
		{
			name:     "stdout",
			arg:      nil,
			expected: newOSSink(os.Stdout),
			env: map[string]string{
				logSinkPathEnvVar: string(logSinkPathStdOut),
			},
		},
		{
			name:     "stderr",
			arg:      nil,
			expected: newOSSink(os.Stderr),
			env: map[string]string{
				logSinkPathEnvVar: string(logSinkPathStdErr),
			},
		},
	} {
		tcase := tcase

		t.Run(tcase.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tcase.env {
				os.Setenv(k, v)
			}

			actual := selectLogSink(
				func() LogSink { return tcase.arg },
				getEnvLogSink,
			)
			if !sameSink(actual, tcase.expected) {
				t.Errorf("expected %+v, got %+v", tcase.expected, actual)
			}
		})
	}
}

// sameSink reports whether two LogSinks are equal. Two OS sinks are equal when
// they write to the same destination, since each newOSSink call builds its own
// *log.Logger.
func sameSink(a, b LogSink) bool {
	aOS, aIsOS := a.(*osSink)
	bOS, bIsOS := b.(*osSink)
	if aIsOS || bIsOS {
		return aIsOS && bIsOS && aOS.logger.Writer() == bOS.logger.Writer()
	}
	return reflect.DeepEqual(a, b)
}

func TestSelectedComponentLevels(t *testing.T) {
	for _, tcase := range []struct {
		name     string
		arg      map[Component]Level
		expected map[Component]Level
		env      map[string]string
	}{
		{
			name: "default",
			arg:  nil,
			expected: map[Component]Level{
				ComponentCommand:         LevelOff,
				ComponentTopology:        LevelOff,
				ComponentServerSelection: LevelOff,
				ComponentConnection:      LevelOff,
			},
		},
		{
			name: "non-nil",
			arg: map[Component]Level{
				ComponentCommand: LevelDebug,
			},
			expected: map[Component]Level{
				ComponentCommand: LevelDebug,
			},
		},
		{
			name: "valid env",
			arg:  nil,
			expected: map[Component]Level{
				ComponentCommand:  LevelDebug,
				ComponentTopology: LevelInfo,
			},
			env: map[string]string{
				mongoDBLogCommandEnvVar:  levelLiteralDebug,
				mongoDBLogTopologyEnvVar: levelLiteralInfo,
			},
		},
		{
			name: "invalid env",
			arg:  nil,
			expected: map[Component]Level{
				ComponentCommand:  LevelOff,
				ComponentTopology: LevelOff,
			},
			env: map[string]string{
				mongoDBLogCommandEnvVar:  "foo",
				mongoDBLogTopologyEnvVar: "bar",
			},
		},
	} {
		tcase := tcase

		t.Run(tcase.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tcase.env {
				os.Setenv(k, v)
			}

			actual := selectComponentLevels(
				func() map[Component]Level { return tcase.arg },
				getEnvComponentLevels,
			)
			for k, v := range tcase.expected {
				if actual[k] != v {
					t.Errorf("expected %d, got %d", v, actual[k])
				}
			}
		})
	}
}

func TestFormatMessage(t *testing.T) {
	t.Run("command value must be stringable", func(t *testing.T) {
		_, err := formatMessage([]interface{}{"command", 42}, DefaultMaxDocumentLength)
		if err == nil {
			t.Fatal("expected an error for a non-stringable command value")
		}
	})

	t.Run("empty command renders as an empty document", func(t *testing.T) {
		kv, err := formatMessage([]interface{}{"command", ""}, DefaultMaxDocumentLength)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if kv[1] != "{}" {
			t.Errorf("expected {}, got %v", kv[1])
		}
	})

	t.Run("long command is truncated", func(t *testing.T) {
		kv, err := formatMessage([]interface{}{"command", "abcdefgh"}, 4)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if kv[1] != "abcd..." {
			t.Errorf("expected truncated value, got %v", kv[1])
		}
	})
}
