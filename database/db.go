/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"database/sql"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jerry-enebeli/linkcache/config"
	_ "github.com/lib/pq"
)

// MemoryDSNPrefix selects the in-process store instead of PostgreSQL.
const MemoryDSNPrefix = "memory://"

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var initErr error
var once sync.Once

type Datasource struct {
	Conn *sql.DB
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	if strings.HasPrefix(configuration.DataSource.Dns, MemoryDSNPrefix) {
		log.Println("using in-memory link store. Records will not survive a restart")
		return NewMemoryDataSource(nil), nil
	}
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	once.Do(func() {
		con, err := ConnectDB(configuration.DataSource.Dns)
		if err != nil {
			initErr = err
			return
		}
		applyPoolSettings(con, configuration.DataSource)
		instance = &Datasource{Conn: con}
	})
	if initErr != nil {
		return nil, initErr
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	// migrations record their state inside the schema, so it has to exist first
	err = createSchema(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func applyPoolSettings(db *sql.DB, cnf config.DataSourceConfig) {
	if cnf.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cnf.MaxOpenConns)
	}
	if cnf.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cnf.MaxIdleConns)
	}
	if cnf.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cnf.ConnMaxLifetime) * time.Second)
	}
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS linkcache`)
	if err != nil {
		log.Printf("Error creating linkcache schema: %v", err)
	}
	return err
}
