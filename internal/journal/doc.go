// Package journal persists supervision transitions to SQLite.
//
// Every connect, broker error, probe failure, retry, and reconnect the
// supervisor reports is appended to the transitions table so that outages
// can be reconstructed after the fact. The schema is embedded and migrated
// on Open.
//
//	j, err := journal.Open(ctx, journal.Config{Path: "./data/brokerwatch.db", WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer j.Close()
//
//	sup := supervisor.New(supervisor.Options{Observer: j})
package journal
