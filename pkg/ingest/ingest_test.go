package ingest

import (
	"errors"
	"strings"
	"testing"

	"github.com/nycrime-kg/crimedash/pkg/storage"
)

const shootings = `INCIDENT_KEY,OCCUR_DATE,OCCUR_TIME,BORO,LOC_OF_OCCUR_DESC,Latitude,Longitude,VIC_RACE
228798151,05/27/2021,21:30:00,QUEENS,,40.66296462,-73.73083869,BLACK
137471050,06/27/2014,17:40:00,BRONX,,40.81035186,-73.92419093,white  hispanic
147998800,11/21/2015,03:56:00,Staten Island,,,,(null)
1,notadate,03:56:00,BRONX,,40.8,-73.9,BLACK
2,11/21/2015,03:56:00,(null),,40.8,-73.9,BLACK
`

const complaints = `CMPLNT_NUM,CMPLNT_FR_DT,CMPLNT_FR_TM,BORO_NM,OFNS_DESC,Latitude,Longitude
100,2019-03-01T00:00:00.000,24:00:00,MANHATTAN,petit  larceny,0,0
101,2019-03-02T00:00:00.000,bad,BROOKLYN,ROBBERY,40.6,-73.9
`

func TestReadShootings(t *testing.T) {
	incs, st, err := ReadCSV(strings.NewReader(shootings))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Rows != 5 || st.Skipped != 2 || len(incs) != 3 {
		t.Fatalf("unexpected stats %+v (%d incidents)", st, len(incs))
	}
	first := incs[0]
	if first.ID != "228798151" || first.Date() != "2021-05-27" || first.Hour != 21 ||
		first.Borough != "QUEENS" || first.CrimeType != ShootingCrimeType || !first.HasLocation {
		t.Fatalf("unexpected first incident %+v", first)
	}
	if incs[0].VictimRace != "BLACK" || incs[1].VictimRace != "WHITE HISPANIC" || incs[2].VictimRace != "" {
		t.Fatalf("unexpected victim races %q %q %q", incs[0].VictimRace, incs[1].VictimRace, incs[2].VictimRace)
	}
	if incs[2].Borough != "STATEN ISLAND" || incs[2].HasLocation {
		t.Fatalf("unexpected third incident %+v", incs[2])
	}
	if st.Errors[0].Line != 5 || !strings.Contains(st.Errors[0].Reason, "bad date") {
		t.Fatalf("unexpected first error %+v", st.Errors[0])
	}
}

func TestReadComplaints(t *testing.T) {
	incs, st, err := ReadCSV(strings.NewReader(complaints))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(incs) != 1 || st.Skipped != 1 {
		t.Fatalf("unexpected result %+v %+v", incs, st)
	}
	inc := incs[0]
	if inc.Hour != 0 || inc.CrimeType != "PETIT LARCENY" || inc.HasLocation {
		t.Fatalf("unexpected incident %+v", inc)
	}
}

func TestReadRejectsUnknownHeader(t *testing.T) {
	if _, _, err := ReadCSV(strings.NewReader("a,b,c\n1,2,3\n")); err == nil {
		t.Fatalf("expected header error")
	}
	if _, _, err := ReadCSV(strings.NewReader("")); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestReadStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	n := 0
	_, err := Read(strings.NewReader(shootings), func(storage.Incident) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) || n != 1 {
		t.Fatalf("expected read to stop after first incident, got %v after %d", err, n)
	}
}
