package migration

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"fieldsync/internal/config"
)

type mockMigrator struct {
	mock.Mock
}

func (m *mockMigrator) Up() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockMigrator) Close() (error, error) {
	args := m.Called()
	return args.Error(0), args.Error(1)
}

func TestMigration_Up(t *testing.T) {
	tests := []struct {
		name    string
		upErr   error
		wantErr bool
	}{
		{name: "applies pending migrations", upErr: nil},
		// ErrNoChange не считается ошибкой
		{name: "schema already current", upErr: migrate.ErrNoChange},
		{name: "dirty schema", upErr: errors.New("dirty database version 2"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(mockMigrator)
			m.On("Up").Return(tt.upErr)
			m.On("Close").Return(nil, nil)

			// мигратор инжектится через фабрику, ФС и БД не трогаем
			mg := NewMigration(&config.Config{
				DB: config.DB{DatabaseURI: "postgres://localhost/fieldsync", Migrations: "migrations"},
			}, func(source, db string) (Migrator, error) {
				return m, nil
			})

			err := mg.Up()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			m.AssertExpectations(t)
		})
	}
}

func TestMigration_Up_EngineError(t *testing.T) {
	mg := NewMigration(&config.Config{}, func(source, db string) (Migrator, error) {
		return nil, errors.New("engine crash")
	})

	err := mg.Up()
	assert.Error(t, err)
	assert.Equal(t, "engine crash", err.Error())
}

func TestMigration_Up_CloseErrorsSurface(t *testing.T) {
	m := new(mockMigrator)
	m.On("Up").Return(nil)
	m.On("Close").Return(errors.New("source close failed"), nil)

	mg := NewMigration(&config.Config{}, func(source, db string) (Migrator, error) {
		return m, nil
	})

	err := mg.Up()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "source close failed")
}
