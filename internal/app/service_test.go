package service_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/windfarm/internal/adapters/agent"
	service "github.com/okian/windfarm/internal/app"
	"github.com/okian/windfarm/internal/config"
	"github.com/okian/windfarm/internal/domain/detector"
	"github.com/okian/windfarm/internal/domain/model"
	"github.com/okian/windfarm/internal/ota"
	"github.com/okian/windfarm/internal/simulator"
	"github.com/okian/windfarm/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
	"google.golang.org/grpc/test/bufconn"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	_ = logger.SetLevelString("error")
}

type recordingSink struct {
	mu        sync.Mutex
	envelopes []model.Envelope
}

func (r *recordingSink) Name() string { return "recording" }
func (r *recordingSink) Close() error { return nil }
func (r *recordingSink) Write(_ context.Context, e model.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, e)
	return nil
}

func (r *recordingSink) anomalies(turbineID string, c model.Channel) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.envelopes {
		if e.Kind == model.KindAnomaly && e.Anomaly.TurbineID == turbineID && e.Anomaly.Channel == c {
			n++
		}
	}
	return n
}

func (r *recordingSink) totalAnomalies() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.envelopes {
		if e.Kind == model.KindAnomaly {
			n++
		}
	}
	return n
}

func (r *recordingSink) captures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.envelopes {
		if e.Kind == model.KindCapture {
			n++
		}
	}
	return n
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.New()
	cfg.Addr = ":0"
	cfg.TurbineCount = 2
	cfg.BufferCapacity = 20
	cfg.WindowSize = 5
	cfg.TickInterval = 5 * time.Millisecond
	cfg.InferenceInterval = 10 * time.Millisecond
	cfg.CaptureStride = 2
	cfg.ModelPath = "/models/autoencoder/v1/model.onnx"
	cfg.ModelDir = t.TempDir()
	cfg.CaptureDir = t.TempDir()
	return cfg
}

func startStubAgent() (*bufconn.Listener, *agent.Server) {
	lis := bufconn.Listen(1 << 20)
	srv := agent.NewServer()
	go func() { _ = srv.Serve(lis) }()
	return lis, srv
}

func writePackage(t *testing.T, content string) (string, string) {
	p := filepath.Join(t.TempDir(), "model.onnx")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256([]byte(content))
	return p, hex.EncodeToString(sum[:])
}

func TestService_New(t *testing.T) {
	Convey("Given a new service that was never started", t, func() {
		svc := service.New(nil)

		Convey("Then it reports defaults and serves empty reads", func() {
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, false)
			So(stats["turbines"], ShouldEqual, 3)
			So(svc.TurbineStatus(), ShouldBeEmpty)
			So(svc.ActiveModel().IsZero(), ShouldBeTrue)
			So(svc.OTAState(), ShouldEqual, ota.Idle)
		})

		Convey("Then Stop is a no-op", func() {
			So(func() { svc.Stop() }, ShouldNotPanic)
		})
	})
}

func TestService_EndToEnd(t *testing.T) {
	Convey("Given a service wired to a stub edge agent", t, func() {
		lis, srv := startStubAgent()
		defer srv.Stop()

		cfg := testConfig(t)
		sink := &recordingSink{}
		svc := service.New(cfg,
			service.WithAgentDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
			service.WithSinks(sink),
		)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("Then the configured model is active", func() {
			So(svc.ActiveModel().Version, ShouldEqual, "v1")
			So(svc.TurbineStatus(), ShouldHaveLength, 2)
			So(svc.GetStats()["started"], ShouldEqual, true)
		})

		Convey("Then a healthy farm publishes no anomalies under default thresholds", func() {
			So(eventually(func() bool { return sink.captures() >= 40 }), ShouldBeTrue)
			So(sink.totalAnomalies(), ShouldEqual, 0)
		})

		Convey("When a fault is injected on one turbine", func() {
			So(eventually(func() bool { return sink.captures() >= 4 }), ShouldBeTrue)
			So(sink.totalAnomalies(), ShouldEqual, 0)

			on, err := svc.InjectFault("wt-01", model.Voltage)
			So(err, ShouldBeNil)
			So(on, ShouldBeTrue)

			Convey("Then anomalies are published for that turbine and channel only", func() {
				So(eventually(func() bool { return sink.anomalies("wt-01", model.Voltage) > 0 }), ShouldBeTrue)
				So(sink.anomalies("wt-02", model.Voltage), ShouldEqual, 0)
				So(sink.totalAnomalies(), ShouldEqual, sink.anomalies("wt-01", model.Voltage))
			})

			Convey("And capture records reach the sinks and the agent", func() {
				So(eventually(func() bool { return sink.captures() > 0 && srv.Captures() > 0 }), ShouldBeTrue)
			})
		})

		Convey("When injecting a fault on an unknown turbine", func() {
			_, err := svc.InjectFault("wt-99", model.Voltage)
			So(err, ShouldNotBeNil)
		})

		Convey("When a deployment notice is submitted", func() {
			pkg, sum := writePackage(t, "weights-v2")
			err := svc.SubmitDeployment(ctx, model.DeploymentNotice{
				JobID: "job-2", ModelName: "autoencoder", Version: "v2", PackageURL: pkg, Checksum: sum,
			})
			So(err, ShouldBeNil)

			Convey("Then the new version becomes active", func() {
				So(eventually(func() bool { return svc.ActiveModel().Version == "v2" }), ShouldBeTrue)
				So(svc.ActiveModel().Path, ShouldStartWith, cfg.ModelDir)
			})

			Convey("And a bad package afterwards leaves it serving", func() {
				So(eventually(func() bool { return svc.ActiveModel().Version == "v2" }), ShouldBeTrue)

				bad, _ := writePackage(t, "weights-v3")
				So(svc.SubmitDeployment(ctx, model.DeploymentNotice{
					JobID: "job-3", ModelName: "autoencoder", Version: "v3", PackageURL: bad, Checksum: "00ff",
				}), ShouldBeNil)

				So(eventually(func() bool {
					h := svc.OTAHistory()
					return len(h) > 0 && h[len(h)-1].JobID == "job-3"
				}), ShouldBeTrue)
				h := svc.OTAHistory()
				So(h[len(h)-1].Status, ShouldEqual, ota.StatusFailed)
				So(svc.ActiveModel().Version, ShouldEqual, "v2")
				So(svc.OTAState(), ShouldEqual, ota.Idle)
			})
		})

		Convey("When the service stops", func() {
			So(eventually(func() bool { return sink.captures() > 0 }), ShouldBeTrue)
			svc.Stop()

			Convey("Then captured data was written to the capture directory", func() {
				entries, err := os.ReadDir(cfg.CaptureDir)
				So(err, ShouldBeNil)
				So(entries, ShouldNotBeEmpty)
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})
	})
}

func TestService_StartsBeforeAgentIsReachable(t *testing.T) {
	Convey("Given an edge agent socket that refuses connections", t, func() {
		lis, srv := startStubAgent()
		defer srv.Stop()

		var up atomic.Bool
		cfg := testConfig(t)
		cfg.AgentConnectTimeout = 100 * time.Millisecond
		svc := service.New(cfg,
			service.WithAgentDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				if !up.Load() {
					return nil, errors.New("connection refused")
				}
				return lis.DialContext(ctx)
			}),
			service.WithSinks(&recordingSink{}),
		)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		begin := time.Now()
		err := svc.Start(ctx)
		defer svc.Stop()

		Convey("Then Start returns once the connect timeout passes", func() {
			So(err, ShouldBeNil)
			So(time.Since(begin), ShouldBeLessThan, 5*time.Second)
			So(svc.GetStats()["started"], ShouldEqual, true)
			So(svc.ActiveModel().IsZero(), ShouldBeTrue)
			So(svc.TurbineStatus(), ShouldHaveLength, 2)
		})

		Convey("When the agent comes up", func() {
			So(err, ShouldBeNil)
			up.Store(true)

			Convey("Then the initial model is loaded in the background", func() {
				deadline := time.Now().Add(20 * time.Second)
				for svc.ActiveModel().IsZero() && time.Now().Before(deadline) {
					time.Sleep(20 * time.Millisecond)
				}
				So(svc.ActiveModel().Version, ShouldEqual, "v1")
			})
		})
	})
}

func TestDefaultThresholdsSeparateHealthyFromFaulted(t *testing.T) {
	Convey("Given default config, the synthetic trace and the stub model", t, func() {
		cfg := config.New()
		sim := simulator.New(
			simulator.WithTurbineCount(cfg.TurbineCount),
			simulator.WithBufferCapacity(cfg.BufferCapacity),
			simulator.WithFaultMagnitude(cfg.FaultMagnitude),
			simulator.WithSeed(cfg.Seed),
		)
		det := detector.New(
			detector.WithDefaultThreshold(cfg.DefaultThreshold),
			detector.WithSpanFraction(cfg.ThresholdSpanFraction),
			detector.WithThresholds(cfg.ChannelThresholds()),
		)
		stub := agent.NewServer()
		ctx := context.Background()
		_, err := stub.LoadModel(ctx, &agent.LoadModelRequest{Name: cfg.ModelName, Path: cfg.ModelPath})
		So(err, ShouldBeNil)

		evaluate := func(id string) []model.AnomalyEvent {
			window, full, err := sim.Latest(id, cfg.WindowSize)
			So(err, ShouldBeNil)
			So(full, ShouldBeTrue)
			tensor := model.Tensor(window)
			resp, err := stub.Predict(ctx, &agent.PredictRequest{Name: cfg.ModelName, Tensor: tensor})
			So(err, ShouldBeNil)
			errs, err := detector.ReconstructionError(tensor, resp.Output)
			So(err, ShouldBeNil)
			return det.Evaluate(id, time.Now(), errs, model.ModelHandle{Name: cfg.ModelName, Version: cfg.ModelVersion})
		}

		Convey("When every turbine replays past a full trace wrap", func() {
			flagged := 0
			for i := 0; i < 1100; i++ {
				for _, tb := range sim.Turbines() {
					tb.Tick(time.Now())
					if i >= cfg.WindowSize && i%5 == 0 {
						flagged += len(evaluate(tb.ID()))
					}
				}
			}

			Convey("Then no window is flagged", func() {
				So(flagged, ShouldEqual, 0)
			})
		})

		Convey("When a fault is injected on one channel", func() {
			for i := 0; i < cfg.WindowSize; i++ {
				for _, tb := range sim.Turbines() {
					tb.Tick(time.Now())
				}
			}
			So(evaluate("wt-01"), ShouldBeEmpty)

			on, err := sim.InjectFault("wt-01", model.Temperature)
			So(err, ShouldBeNil)
			So(on, ShouldBeTrue)
			for i := 0; i < cfg.WindowSize/2; i++ {
				for _, tb := range sim.Turbines() {
					tb.Tick(time.Now())
				}
			}

			Convey("Then only that turbine and channel are flagged", func() {
				events := evaluate("wt-01")
				So(events, ShouldNotBeEmpty)
				for _, ev := range events {
					So(ev.Channel, ShouldEqual, model.Temperature)
				}
				So(evaluate("wt-02"), ShouldBeEmpty)
			})
		})
	})
}
