// Package bcpdriver is a bulk copy client. It streams rows of text fields
// into a server table through a pluggable transport driver.
//
// The client package holds the connection and bulk copy session API. The
// transport package defines the driver contract, with implementations for
// SQL Server (transport/sqlserver), PostgreSQL COPY (transport/pgcopy) and
// an in-memory driver for tests (transport/mock). The bcp command in
// cmd/bcp loads delimited files with it.
//
// A typical session:
//
//	conn, err := client.Connect(ctx, "db01", "loader", password, "sales", nil)
//	if err != nil {
//		return err
//	}
//	defer conn.Disconnect()
//
//	if err := conn.Init(ctx, "dbo.orders"); err != nil {
//		return err
//	}
//	for _, r := range records {
//		if err := conn.Send(ctx, client.TextRow(r...)); err != nil {
//			return err
//		}
//	}
//	committed, err := conn.Done(ctx)
package bcpdriver
