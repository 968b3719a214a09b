package integrity

import (
	"context"
	"fmt"

	"integrity-go/internal/model"
)

// Connect opens an external database and makes it the session's active one.
// The database identity is registered in the ledger on first connection.
// When params.DBMS is empty it is inferred from the port.
func (e *Engine) Connect(ctx context.Context, params model.ConnectParams) Result {
	if e.connect == nil {
		return e.fail("db_connect", ParamError("external databases are not available"))
	}

	if params.DBMS == "" {
		switch params.Port {
		case "3306":
			params.DBMS = "mysql"
		case "5432":
			params.DBMS = "postgresql"
		}
	}

	switch params.DBMS {
	case "sqlite3":
		if params.DSN == "" {
			return e.fail("db_connect", ParamError("insufficient parameters for %q", "db_connect"))
		}
	case "mysql", "postgresql":
		if params.Host == "" || params.Port == "" || params.Database == "" || params.User == "" || params.Password == "" {
			return e.fail("db_connect", ParamError("insufficient parameters for %q", "db_connect"))
		}
	case "":
		return e.fail("db_connect", ParamError("could not determine the DBMS, no connection was made"))
	default:
		return e.fail("db_connect", ParamError("%q is not a supported DBMS", params.DBMS))
	}

	db, err := e.connect(ctx, params)
	if err != nil {
		return e.fail("db_connect", &Error{Kind: KindParameter, Message: "could not connect to the specified database", Err: err})
	}

	var id int64
	err = e.withTx(ctx, func(tx LedgerTx) error {
		var err error
		id, err = tx.DatabaseID(ctx, db.Fingerprint())
		if IsNotFound(err) {
			id, err = tx.InsertDatabase(ctx, db.Fingerprint(), e.now())
		}
		return err
	})
	if err != nil {
		db.Close()
		return e.fail("db_connect", err)
	}

	if e.db != nil {
		e.db.Close()
	}
	e.db = db
	e.databaseID = id

	e.logger.Info("database connected", "database", db.Name(), "dbms", params.DBMS, "database_id", id)
	return Result{Message: fmt.Sprintf("connected to database %s", db.Name())}
}
