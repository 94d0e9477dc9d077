package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/ManuelReschke/CobroFox/internal/pkg/database"
	"github.com/ManuelReschke/CobroFox/internal/pkg/env"
)

func main() {
	// Cargar variables de entorno desde .env
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	log.Printf("Conectando a la base de datos: %s@%s:%s/%s",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)

	m, err := migrate.New(
		env.GetEnv("MIGRATIONS_SOURCE", "file://migrations"),
		"mysql://"+database.DSN()+"&multiStatements=true",
	)
	if err != nil {
		log.Fatalf("Error al inicializar las migraciones: %v", err)
	}

	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Printf("Error al cerrar los recursos de migración: %v, %v", sourceErr, dbErr)
		}
	}()

	switch command {
	case "up":
		report(m.Up(), "Migraciones aplicadas correctamente")

	case "down":
		// Revertir solo la última migración
		report(m.Steps(-1), "Última migración revertida correctamente")

	case "goto":
		version := versionArg()
		report(m.Migrate(version), fmt.Sprintf("Migración a la versión %d completada", version))

	case "force":
		// Marca la versión como limpia tras reparar a mano una migración fallida
		version := versionArg()
		if err := m.Force(int(version)); err != nil {
			log.Fatalf("Error al forzar la versión %d: %v", version, err)
		}
		log.Printf("Versión forzada a %d", version)

	case "status":
		version, dirty, err := m.Version()
		if err != nil {
			if errors.Is(err, migrate.ErrNilVersion) {
				log.Println("Todavía no se ha aplicado ninguna migración")
				return
			}
			log.Fatalf("Error al consultar la versión de migración: %v", err)
		}
		dirtyStatus := ""
		if dirty {
			dirtyStatus = " (dirty)"
		}
		log.Printf("Versión de migración actual: %d%s", version, dirtyStatus)

	default:
		printUsage()
		os.Exit(1)
	}
}

func report(err error, success string) {
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Println("Sin cambios: la base de datos ya está actualizada")
	case err != nil:
		log.Fatalf("Error al ejecutar las migraciones: %v", err)
	default:
		log.Println(success)
	}
}

func versionArg() uint {
	if len(os.Args) < 3 {
		log.Fatalf("Indica un número de versión")
	}
	version, err := strconv.ParseUint(os.Args[2], 10, 64)
	if err != nil {
		log.Fatalf("Número de versión inválido: %v", err)
	}
	return uint(version)
}

func printUsage() {
	fmt.Println("Uso: go run cmd/migrate/main.go [comando]")
	fmt.Println("Comandos disponibles:")
	fmt.Println("  up      - Aplica todas las migraciones pendientes")
	fmt.Println("  down    - Revierte la última migración")
	fmt.Println("  goto N  - Migra a la versión N")
	fmt.Println("  force N - Marca la versión N como aplicada y limpia")
	fmt.Println("  status  - Muestra la versión de migración actual")
}
