package demo

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/canonical/sqlreq"
	"github.com/canonical/sqlreq/typedesc"
)

var person = typedesc.Product(typedesc.Text(), typedesc.Int64(), typedesc.Text())
var place = typedesc.Product(typedesc.Text(), typedesc.Int64())

var (
	createPerson = sqlreq.MustExec(`
		CREATE TABLE people (
			name text,
			height_cm integer,
			home_town text
		);`, nil, nil)
	createPlace = sqlreq.MustExec(`
		CREATE TABLE location (
			town_name text,
			population integer
		);`, nil, nil)
	insertPerson = sqlreq.MustExec(`
		INSERT INTO people (name, height_cm, home_town)
		VALUES ($1, $2, $3);`, person, nil)
	insertPlace = sqlreq.MustExec(`
		INSERT INTO location (town_name, population)
		VALUES ($1, $2);`, place, nil)
	tallerThan = sqlreq.MustCollect(`
		SELECT name, height_cm, home_town
		FROM people
		WHERE height_cm > ?`, typedesc.Int64(), person, nil)
	tallCities = sqlreq.MustCollect(`
		SELECT DISTINCT l.town_name, l.population
		FROM people AS p, location AS l
		WHERE p.home_town = l.town_name
		AND p.height_cm > ?;`, typedesc.Int64(), place, nil)
)

func example() error {
	sqldb, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return err
	}
	db := sqlreq.NewDB(sqldb, sqlreq.SQLite3)

	var people = [][]any{
		{"Jim", int64(150), "Kabul"},
		{"Saba", int64(162), "Berlin"},
		{"Dave", int64(169), "Brasília"},
		{"Sophie", int64(174), "Berlin"},
		{"Kiri", int64(168), "Cape Town"},
	}
	var places = [][]any{
		{"Kabul", int64(13000000)},
		{"Berlin", int64(3677472)},
		{"Brasília", int64(3039444)},
		{"Cape Town", int64(4710000)},
	}

	// Create the tables
	err = db.Query(context.Background(), createPerson, nil).Run()
	if err != nil {
		return err
	}
	err = db.Query(context.Background(), createPlace, nil).Run()
	if err != nil {
		return err
	}

	// Insert the people and places
	for _, p := range people {
		err := db.Query(context.Background(), insertPerson, p).Run()
		if err != nil {
			return err
		}
	}
	for _, l := range places {
		err := db.Query(context.Background(), insertPlace, l).Run()
		if err != nil {
			return err
		}
	}

	// Find people taller than Jim
	jim := people[0]
	q := db.Query(context.Background(), tallerThan, jim[1])
	iter := q.Iter()
	for iter.Next() {
		row, err := iter.Row()
		if err != nil {
			return err
		}
		fmt.Printf("%s is taller than %s.\n", row.([]any)[0], jim[0])
	}
	err = iter.Close()
	if err != nil {
		return err
	}

	// Find cities with people taller than Jim
	cities, err := db.Query(context.Background(), tallCities, jim[1]).All()
	if err != nil {
		return err
	}
	fmt.Printf("This is a list of cities with people taller than Jim: %v\n", cities)
	return nil
}

func main() {
	err := example()
	if err != nil {
		panic(err)
	}
}
