//go:build integration

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package store_test

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/elouarate/gallery-admin/internal/store"
)

var _ = Describe("Schema", Ordered, func() {
	var (
		ctx  context.Context
		pool *pgxpool.Pool
	)

	BeforeAll(func() {
		ctx = context.Background()
		connStr := startPostgres(ctx, GinkgoT())

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		pool, err = store.Connect(ctx, connStr, store.DefaultPoolConfig())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(pool.Close)
	})

	insertPrincipal := func(id, email string) error {
		_, err := pool.Exec(ctx,
			`INSERT INTO principals (id, email, password_hash, role) VALUES ($1, $2, 'x', 'USER')`,
			id, email)
		return err
	}

	It("reports ready once connected", func() {
		Expect(store.ReadinessCheck(pool, time.Second)()).To(BeTrue())
	})

	It("rejects a second principal whose email differs only by case", func() {
		Expect(insertPrincipal("01J0000000000000000000000A", "curator@example.com")).To(Succeed())

		err := insertPrincipal("01J0000000000000000000000B", "Curator@Example.com")
		var pgErr *pgconn.PgError
		Expect(errors.As(err, &pgErr)).To(BeTrue())
		Expect(pgErr.Code).To(Equal(pgerrcode.UniqueViolation))
	})

	It("rejects unknown roles", func() {
		_, err := pool.Exec(ctx,
			`INSERT INTO principals (id, email, password_hash, role) VALUES ('01J0000000000000000000000C', 'c@example.com', 'x', 'OWNER')`)
		Expect(err).To(HaveOccurred())
	})

	It("keeps at most one reset token per principal", func() {
		_, err := pool.Exec(ctx,
			`INSERT INTO password_resets (principal_id, token_hash, expires_at) VALUES ('01J0000000000000000000000A', 'h1', NOW())`)
		Expect(err).NotTo(HaveOccurred())

		_, err = pool.Exec(ctx,
			`INSERT INTO password_resets (principal_id, token_hash, expires_at) VALUES ('01J0000000000000000000000A', 'h2', NOW())`)
		Expect(err).To(HaveOccurred())
	})

	It("drops reset tokens with their principal", func() {
		_, err := pool.Exec(ctx, `DELETE FROM principals WHERE id = '01J0000000000000000000000A'`)
		Expect(err).NotTo(HaveOccurred())

		var n int
		Expect(pool.QueryRow(ctx, `SELECT COUNT(*) FROM password_resets`).Scan(&n)).To(Succeed())
		Expect(n).To(Equal(0))
	})
})
