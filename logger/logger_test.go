package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestReportLevelLogsAtInfo(t *testing.T) {
	t.Setenv("LOG_LEVEL", "report")

	log := Logger()
	if err := log.Configure("debug", "json", "stdout", 0); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if log.GetLevel().String() != "info" {
		t.Fatalf("expected info level, got %s", log.GetLevel())
	}
}

func TestJSONFieldNames(t *testing.T) {
	log := Logger()
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.WithComponent("aggregator").WithFields(Fields{"symbol": "BTC_USDT"}).Info("price updated")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	for _, key := range []string{"timestamp", "level", "message", "component", "symbol"} {
		if _, ok := line[key]; !ok {
			t.Errorf("missing key %q in %v", key, line)
		}
	}
}

func TestWarnAndErrorAreCounted(t *testing.T) {
	log := Logger()
	log.SetOutput(&bytes.Buffer{})

	before := Counters()
	log.WithComponent("test").Warn("w")
	log.WithComponent("test").Error("e")
	after := Counters()

	if after["warnings"] != before["warnings"]+1 {
		t.Errorf("warnings not counted: %d -> %d", before["warnings"], after["warnings"])
	}
	if after["errors"] != before["errors"]+1 {
		t.Errorf("errors not counted: %d -> %d", before["errors"], after["errors"])
	}
}

type fakePublisher struct {
	inputs []*cloudwatch.PutMetricDataInput
}

func (f *fakePublisher) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func (f *fakePublisher) PutDashboard(context.Context, *cloudwatch.PutDashboardInput, ...func(*cloudwatch.Options)) (*cloudwatch.PutDashboardOutput, error) {
	return &cloudwatch.PutDashboardOutput{}, nil
}

func TestLogMetricPublishesNumericValues(t *testing.T) {
	fake := &fakePublisher{}
	setPublisher(fake, "TestNS")
	defer setPublisher(nil, "")

	log := Logger()
	log.SetOutput(&bytes.Buffer{})
	entry := log.WithComponent("snapshot")

	entry.LogMetric("saves", 3, Fields{"backend": "file"})
	entry.LogMetric("ignored", "not-a-number", nil)

	if len(fake.inputs) != 1 {
		t.Fatalf("expected one publish, got %d", len(fake.inputs))
	}
	in := fake.inputs[0]
	if *in.Namespace != "TestNS" {
		t.Errorf("unexpected namespace %s", *in.Namespace)
	}
	if got := *in.MetricData[0].Value; got != 3 {
		t.Errorf("unexpected value %v", got)
	}
	if len(in.MetricData[0].Dimensions) != 2 {
		t.Errorf("expected component and backend dimensions, got %d", len(in.MetricData[0].Dimensions))
	}
}
