package externaldb

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"

	"integrity-go/internal/model"
)

// dialect captures what differs between the supported DBMSs.
type dialect struct {
	name   string // DBMS name as used in connection parameters
	driver string // database/sql driver name
	quote  byte
	// columnsQuery returns the column names of the table bound to its only
	// parameter, in declaration order.
	columnsQuery string
	// encodingQuery returns the text encoding of the connection.
	encodingQuery string
	// dsn builds the driver connection string. Network DBMSs build it from
	// host, port and database only, the same fields that fingerprint the
	// connection; ConnectParams.DSN is the sqlite3 file path.
	dsn func(p model.ConnectParams) string
}

var dialects = map[string]*dialect{
	"postgresql": {
		name:   "postgresql",
		driver: "postgres",
		quote:  '"',
		columnsQuery: `SELECT column_name FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1
			ORDER BY ordinal_position`,
		encodingQuery: "SHOW client_encoding",
		dsn: func(p model.ConnectParams) string {
			u := url.URL{
				Scheme:   "postgres",
				User:     url.UserPassword(p.User, p.Password),
				Host:     net.JoinHostPort(p.Host, p.Port),
				Path:     "/" + p.Database,
				RawQuery: "sslmode=disable",
			}
			return u.String()
		},
	},
	"mysql": {
		name:   "mysql",
		driver: "mysql",
		quote:  '`',
		columnsQuery: `SELECT column_name FROM information_schema.columns
			WHERE table_schema = DATABASE() AND table_name = ?
			ORDER BY ordinal_position`,
		encodingQuery: "SELECT @@character_set_client",
		dsn: func(p model.ConnectParams) string {
			cfg := mysql.NewConfig()
			cfg.User = p.User
			cfg.Passwd = p.Password
			cfg.Net = "tcp"
			cfg.Addr = net.JoinHostPort(p.Host, p.Port)
			cfg.DBName = p.Database
			return cfg.FormatDSN()
		},
	},
	"sqlite3": {
		name:          "sqlite3",
		driver:        "sqlite3",
		quote:         '"',
		columnsQuery:  "SELECT name FROM pragma_table_info(?) ORDER BY cid",
		encodingQuery: "PRAGMA encoding",
		dsn: func(p model.ConnectParams) string {
			return "file:" + p.DSN + "?mode=ro"
		},
	},
}

func dialectFor(dbms string) (*dialect, error) {
	d, ok := dialects[dbms]
	if !ok {
		return nil, fmt.Errorf("unsupported DBMS %q", dbms)
	}
	return d, nil
}

// quoteIdent quotes an identifier that has already been validated against
// the schema. Embedded quote characters are doubled.
func (d *dialect) quoteIdent(name string) string {
	q := string(d.quote)
	return q + strings.ReplaceAll(name, q, q+q) + q
}
