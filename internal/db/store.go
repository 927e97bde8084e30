package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Store persists the emulator's view of the world: game servers that
// heartbeat over GameSpy and accounts that log in over FESL.
type Store struct {
	db *Database
}

// GameServer is a row in the game_servers table.
type GameServer struct {
	ID         int       `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	GameName   string    `json:"game_name"`
	HostName   string    `json:"host_name"`
	MapName    string    `json:"map_name"`
	NumPlayers int       `json:"num_players"`
	MaxPlayers int       `json:"max_players"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// Account is a row in the accounts_seen table.
type Account struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Game      string    `json:"game"`
	FirstSeen time.Time `json:"first_seen"`
	LastLogin time.Time `json:"last_login"`
	Logins    int       `json:"logins"`
}

// NewStore opens the store and runs schema migrations.
func NewStore(dbPath string) (*Store, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{db: database}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS game_servers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			remote_addr TEXT UNIQUE NOT NULL,
			game_name TEXT NOT NULL DEFAULT '',
			host_name TEXT NOT NULL DEFAULT '',
			map_name TEXT NOT NULL DEFAULT '',
			num_players INTEGER NOT NULL DEFAULT 0,
			max_players INTEGER NOT NULL DEFAULT 0,
			first_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_seen DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS accounts_seen (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			game TEXT NOT NULL DEFAULT '',
			first_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_login DATETIME DEFAULT CURRENT_TIMESTAMP,
			logins INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_game_servers_last_seen ON game_servers(last_seen);
		CREATE INDEX IF NOT EXISTS idx_accounts_seen_name ON accounts_seen(name);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("store schema migrated")
	return nil
}

// UpsertGameServer records a heartbeat, inserting the server on first
// contact and refreshing its status afterwards. It reports whether the
// server was newly registered.
func (s *Store) UpsertGameServer(srv GameServer) (bool, error) {
	var known bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM game_servers WHERE remote_addr = ?)`, srv.RemoteAddr).Scan(&known)
	if err != nil {
		return false, fmt.Errorf("failed to upsert game server %s: %w", srv.RemoteAddr, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO game_servers (remote_addr, game_name, host_name, map_name, num_players, max_players, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(remote_addr) DO UPDATE SET
			game_name = excluded.game_name,
			host_name = excluded.host_name,
			map_name = excluded.map_name,
			num_players = excluded.num_players,
			max_players = excluded.max_players,
			last_seen = CURRENT_TIMESTAMP`,
		srv.RemoteAddr, srv.GameName, srv.HostName, srv.MapName, srv.NumPlayers, srv.MaxPlayers)
	if err != nil {
		return false, fmt.Errorf("failed to upsert game server %s: %w", srv.RemoteAddr, err)
	}
	return !known, nil
}

// RemoveGameServer delists a server explicitly (statechanged shutdown).
func (s *Store) RemoveGameServer(remoteAddr string) error {
	_, err := s.db.Exec(`DELETE FROM game_servers WHERE remote_addr = ?`, remoteAddr)
	if err != nil {
		return fmt.Errorf("failed to remove game server %s: %w", remoteAddr, err)
	}
	return nil
}

// PruneStaleServers delists servers whose last heartbeat is older than
// the timeout and returns how many were removed.
func (s *Store) PruneStaleServers(timeout time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-timeout)
	res, err := s.db.Exec(`DELETE FROM game_servers WHERE strftime('%s', last_seen) < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune stale servers: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListGameServers returns all currently listed servers, most recently
// seen first.
func (s *Store) ListGameServers() ([]GameServer, error) {
	rows, err := s.db.Query(`
		SELECT id, remote_addr, game_name, host_name, map_name, num_players, max_players, first_seen, last_seen
		FROM game_servers ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list game servers: %w", err)
	}
	defer rows.Close()

	var servers []GameServer
	for rows.Next() {
		var srv GameServer
		if err := rows.Scan(&srv.ID, &srv.RemoteAddr, &srv.GameName, &srv.HostName, &srv.MapName,
			&srv.NumPlayers, &srv.MaxPlayers, &srv.FirstSeen, &srv.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan game server row: %w", err)
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

// RecordLogin records a FESL login for an account.
func (s *Store) RecordLogin(name, game string) error {
	_, err := s.db.Exec(`
		INSERT INTO accounts_seen (name, game, logins, last_login)
		VALUES (?, ?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			game = excluded.game,
			logins = logins + 1,
			last_login = CURRENT_TIMESTAMP`,
		name, game)
	if err != nil {
		return fmt.Errorf("failed to record login for %s: %w", name, err)
	}
	return nil
}

// GetAccount looks up a single account by name.
func (s *Store) GetAccount(name string) (*Account, error) {
	var acct Account
	err := s.db.QueryRow(`
		SELECT id, name, game, first_seen, last_login, logins
		FROM accounts_seen WHERE name = ?`, name).
		Scan(&acct.ID, &acct.Name, &acct.Game, &acct.FirstSeen, &acct.LastLogin, &acct.Logins)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", name, err)
	}
	return &acct, nil
}

// ListAccounts returns all accounts ordered by most recent login.
func (s *Store) ListAccounts() ([]Account, error) {
	rows, err := s.db.Query(`
		SELECT id, name, game, first_seen, last_login, logins
		FROM accounts_seen ORDER BY last_login DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var acct Account
		if err := rows.Scan(&acct.ID, &acct.Name, &acct.Game, &acct.FirstSeen, &acct.LastLogin, &acct.Logins); err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

// CountGameServers returns the number of currently listed servers.
func (s *Store) CountGameServers() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM game_servers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count game servers: %w", err)
	}
	return n, nil
}
