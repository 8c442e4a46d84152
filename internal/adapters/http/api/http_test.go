package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/okian/windfarm/internal/adapters/http/api"
	"github.com/okian/windfarm/internal/domain/model"
	"github.com/okian/windfarm/internal/ota"
	"github.com/okian/windfarm/internal/simulator"
	"github.com/okian/windfarm/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	_ = logger.SetLevelString("error")
	os.Exit(m.Run())
}

type mockDeps struct {
	turbines  []simulator.Status
	faults    map[string]bool
	active    model.ModelHandle
	submitErr error
	submitted []model.DeploymentNotice
	history   []ota.JobStatus
}

func newMockDeps() *mockDeps {
	return &mockDeps{
		turbines: []simulator.Status{
			{ID: "wt-01", Capacity: 100},
			{ID: "wt-02", Capacity: 100},
		},
		faults: map[string]bool{},
	}
}

func (m *mockDeps) TurbineStatus() []simulator.Status { return m.turbines }

func (m *mockDeps) InjectFault(id string, c model.Channel) (bool, error) {
	for _, st := range m.turbines {
		if st.ID == id {
			key := id + "/" + c.String()
			m.faults[key] = !m.faults[key]
			return m.faults[key], nil
		}
	}
	return false, fmt.Errorf("%w: %s", simulator.ErrUnknownTurbine, id)
}

func (m *mockDeps) ActiveModel() model.ModelHandle { return m.active }

func (m *mockDeps) SubmitDeployment(_ context.Context, n model.DeploymentNotice) error {
	if m.submitErr != nil {
		return m.submitErr
	}
	if err := n.Validate(); err != nil {
		return err
	}
	m.submitted = append(m.submitted, n)
	return nil
}

func (m *mockDeps) OTAState() ota.State         { return ota.Idle }
func (m *mockDeps) OTAHistory() []ota.JobStatus { return m.history }

func (m *mockDeps) GetStats() map[string]interface{} {
	return map[string]interface{}{"started": true, "turbines": len(m.turbines)}
}

func newMux(deps *mockDeps) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps).Register(context.Background(), mux)
	return mux
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestTurbineRoutes(t *testing.T) {
	Convey("Given the API over two turbines", t, func() {
		deps := newMockDeps()
		mux := newMux(deps)

		Convey("When listing turbines", func() {
			rec := do(mux, http.MethodGet, "/turbines", "")

			Convey("Then both are returned", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				var got []simulator.Status
				So(json.Unmarshal(rec.Body.Bytes(), &got), ShouldBeNil)
				So(got, ShouldHaveLength, 2)
			})
		})

		Convey("When fetching one turbine", func() {
			So(do(mux, http.MethodGet, "/turbines/wt-02", "").Code, ShouldEqual, http.StatusOK)
			So(do(mux, http.MethodGet, "/turbines/wt-99", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When toggling a fault twice", func() {
			first := do(mux, http.MethodPost, "/turbines/wt-01/faults/voltage", "")
			second := do(mux, http.MethodPost, "/turbines/wt-01/faults/voltage", "")

			Convey("Then the flag flips on and back off", func() {
				So(first.Code, ShouldEqual, http.StatusOK)
				So(first.Body.String(), ShouldContainSubstring, `"active":true`)
				So(first.Body.String(), ShouldContainSubstring, `"channel":"voltage"`)
				So(second.Body.String(), ShouldContainSubstring, `"active":false`)
			})
		})

		Convey("When the channel is unknown", func() {
			rec := do(mux, http.MethodPost, "/turbines/wt-01/faults/humidity", "")
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the turbine is unknown", func() {
			rec := do(mux, http.MethodPost, "/turbines/wt-42/faults/voltage", "")
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When using the wrong method", func() {
			rec := do(mux, http.MethodGet, "/turbines/wt-01/faults/voltage", "")
			So(rec.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestModelRoute(t *testing.T) {
	Convey("Given no active model", t, func() {
		deps := newMockDeps()
		mux := newMux(deps)

		So(do(mux, http.MethodGet, "/model", "").Code, ShouldEqual, http.StatusNotFound)

		Convey("When a model becomes active it is reported", func() {
			deps.active = model.ModelHandle{Name: "ae", Version: "v3", Path: "/models/ae/v3/model.onnx", LoadedAt: time.Now()}
			rec := do(mux, http.MethodGet, "/model", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, `"version":"v3"`)
		})
	})
}

func TestDeploymentRoutes(t *testing.T) {
	Convey("Given the API", t, func() {
		deps := newMockDeps()
		mux := newMux(deps)
		body := `{"job_id":"j-1","model_name":"ae","version":"v2","package_url":"https://repo/ae-v2.onnx"}`

		Convey("When posting a valid notice", func() {
			rec := do(mux, http.MethodPost, "/deployments", body)

			Convey("Then it is accepted and queued", func() {
				So(rec.Code, ShouldEqual, http.StatusAccepted)
				So(deps.submitted, ShouldHaveLength, 1)
				So(deps.submitted[0].Version, ShouldEqual, "v2")
			})
		})

		Convey("When the body is not JSON", func() {
			So(do(mux, http.MethodPost, "/deployments", "{").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When a required field is missing", func() {
			rec := do(mux, http.MethodPost, "/deployments", `{"job_id":"j-2","model_name":"ae"}`)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(rec.Body.String(), ShouldContainSubstring, "version")
		})

		Convey("When the listener is busy", func() {
			deps.submitErr = fmt.Errorf("%w: job j-1", ota.ErrBusy)
			So(do(mux, http.MethodPost, "/deployments", body).Code, ShouldEqual, http.StatusTooManyRequests)
		})

		Convey("When reading OTA progress", func() {
			deps.history = []ota.JobStatus{{JobID: "j-0", Status: ota.StatusSucceeded}}
			rec := do(mux, http.MethodGet, "/ota", "")

			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, `"state":"idle"`)
			So(rec.Body.String(), ShouldContainSubstring, `"job_id":"j-0"`)
		})
	})
}

func TestStatsAndHealth(t *testing.T) {
	Convey("Given the API", t, func() {
		mux := newMux(newMockDeps())

		Convey("Stats are served as JSON", func() {
			rec := do(mux, http.MethodGet, "/stats", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Header().Get("Content-Type"), ShouldStartWith, "application/json")
			So(rec.Body.String(), ShouldContainSubstring, `"turbines":2`)
		})

		Convey("Health serves the metrics exposition", func() {
			do(mux, http.MethodGet, "/stats", "")
			rec := do(mux, http.MethodGet, "/healthz", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, "http_requests_total")
		})
	})
}
