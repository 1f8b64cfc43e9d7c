package server

import (
	"slices"

	"github.com/samber/lo"

	"github.com/loykin/extractor/internal/datastore"
	"github.com/loykin/extractor/internal/timezone"
)

// Static data served by the debug endpoints. They mirror the timezone
// service and the remote config store so a local run needs no upstream.
var stubTimezones = []timezone.Entry{
	{Country: "xx", Timezone: "America/Mexico_City"},
	{Country: "yy", Timezone: "Europe/Rome"},
	{Country: "zz", Timezone: "Pacific/Auckland"},
}

var stubQueries = map[string]string{
	"q1": "(age > 35 and date_trunc('day',lastvisit)>current_date-25)",
	"q2": "(age > 20 and date_trunc('day',lastvisit)>current_date-40)",
}

func stubSchedule(end, time string) map[string]string {
	return map[string]string{
		datastore.KeyEnd:      end,
		datastore.KeyInterval: "7",
		datastore.KeyQuery:    "q1",
		datastore.KeyStart:    "2018-05-01",
		datastore.KeyTime:     time,
	}
}

var stubRegions = map[string]map[string]string{
	datastore.ScheduleRegion("xx"): stubSchedule("2018-05-30", "23:00"),
	datastore.ScheduleRegion("yy"): stubSchedule("2018-05-30", "23:00"),
	datastore.ScheduleRegion("zz"): stubSchedule("2020-12-31", "01:00"),
	datastore.QueriesRegion:        stubQueries,
}

// stubValueList renders region in the config store wire format with keys in
// a stable order.
func stubValueList(region string) (datastore.ValueList, bool) {
	entries, ok := stubRegions[region]
	if !ok {
		return datastore.ValueList{}, false
	}
	keys := lo.Keys(entries)
	slices.Sort(keys)
	list := datastore.ValueList{List: make([]datastore.Value, 0, len(keys))}
	for _, k := range keys {
		list.List = append(list.List, datastore.Value{
			DatastoreKey: datastore.Key{Region: region, Key: k},
			Value:        entries[k],
		})
	}
	return list, true
}
