package verify

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/cosmo-local-credit/saleops/logging"
)

type fakeExplorer struct {
	mu        sync.Mutex
	forms     []map[string]string
	pollsLeft int
	reject    bool
}

func (f *fakeExplorer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = r.ParseForm()
	switch r.Form.Get("action") {
	case "verifysourcecode":
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		f.forms = append(f.forms, form)
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":"guid-1"}`))
	case "checkverifystatus":
		switch {
		case f.reject:
			_, _ = w.Write([]byte(`{"status":"0","message":"NOTOK","result":"Fail - Unable to verify"}`))
		case f.pollsLeft > 0:
			f.pollsLeft--
			_, _ = w.Write([]byte(`{"status":"0","message":"NOTOK","result":"Pending in queue"}`))
		default:
			_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":"Pass - Verified"}`))
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func newClient(url string) *Etherscan {
	return NewEtherscan(Config{
		APIURL:       url,
		APIKey:       "key",
		ExplorerURL:  "https://ropsten.etherscan.io/",
		Interval:     time.Millisecond,
		PollInterval: time.Millisecond,
		MaxPolls:     5,
	}, logging.Nop())
}

func TestVerifySubmitsAndPolls(t *testing.T) {
	fake := &fakeExplorer{pollsLeft: 2}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	link, err := newClient(srv.URL).Verify(t.Context(), Request{
		Address:         addr,
		ContractName:    "CrowdsaleToken",
		Source:          "contract CrowdsaleToken {}",
		CompilerVersion: "v0.4.18+commit.9cf6e910",
		Optimizer:       true,
		OptimizerRuns:   500,
		ConstructorArgs: "00ff",
		Libraries:       map[string]string{"SafeMathLib": "0x00000000000000000000000000000000000000bb"},
	})
	require.NoError(t, err)
	require.Equal(t, "https://ropsten.etherscan.io/address/"+addr.Hex()+"#code", link)

	require.Len(t, fake.forms, 1)
	form := fake.forms[0]
	require.Equal(t, "1", form["optimizationUsed"])
	require.Equal(t, "00ff", form["constructorArguements"])
	require.Equal(t, "SafeMathLib", form["libraryname1"])
	require.Equal(t, "key", form["apikey"])
	require.Zero(t, fake.pollsLeft)
}

func TestVerifyRejected(t *testing.T) {
	srv := httptest.NewServer(&fakeExplorer{reject: true})
	defer srv.Close()

	_, err := newClient(srv.URL).Verify(t.Context(), Request{ContractName: "X"})
	require.ErrorIs(t, err, ErrRejected)
}

func TestVerifyStillPending(t *testing.T) {
	srv := httptest.NewServer(&fakeExplorer{pollsLeft: 100})
	defer srv.Close()

	_, err := newClient(srv.URL).Verify(t.Context(), Request{ContractName: "X"})
	require.ErrorIs(t, err, ErrPending)
}
