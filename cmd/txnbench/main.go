// Command txnbench drives the transactional layer with randomly keyed
// concurrent clients, following the shape of brimstore-valuesstore's
// load generator: a go-flags option struct, a positional list of named
// tests, a random keyspace split into one contiguous range per client,
// and a final
// Stats() dump.
package main

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	flags "github.com/jessevdk/go-flags"

	txnkv "github.com/clayne/splinterdb"
	"github.com/clayne/splinterdb/kvs"
)

type optsStruct struct {
	Clients       int  `long:"clients" description:"The number of clients. Default: cores*cores"`
	Cores         int  `long:"cores" description:"The number of cores. Default: CPU core count"`
	ExtendedStats bool `long:"extended-stats" description:"Extended statistics at exit."`
	Number        int  `short:"n" long:"number" description:"Number of keys. Default: 10000"`
	Random        int  `long:"random" description:"Random number seed. Default: 0"`
	Positional    struct {
		Tests []string `name:"tests" description:"insert update lookup delete"`
	} `positional-args:"yes"`

	keyspace []int64
	db       *txnkv.DB
}

var opts optsStruct
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		args = append(args, "-h")
	}
	if _, err := parser.ParseArgs(args); err != nil {
		os.Exit(1)
	}
	for _, arg := range opts.Positional.Tests {
		switch arg {
		case "insert", "update", "lookup", "delete":
		default:
			fmt.Fprintf(os.Stderr, "Unknown test named %#v.\n", arg)
			os.Exit(1)
		}
	}
	if opts.Cores > 0 {
		runtime.GOMAXPROCS(opts.Cores)
	} else if os.Getenv("GOMAXPROCS") == "" {
		runtime.GOMAXPROCS(runtime.NumCPU())
	}
	opts.Cores = runtime.GOMAXPROCS(0)
	if opts.Clients == 0 {
		opts.Clients = opts.Cores * opts.Cores
	}
	if opts.Number == 0 {
		opts.Number = 10000
	}

	rng := rand.New(rand.NewSource(int64(opts.Random)))
	opts.keyspace = make([]int64, opts.Number)
	for i := range opts.keyspace {
		opts.keyspace[i] = rng.Int63()
	}

	data := kvs.NewBytesDataConfig(8, kvs.Int64AddMerge)
	store := kvs.NewMemStore(data, 256)
	db, err := txnkv.Open(txnkv.Config{
		Store: store,
		Data:  data,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	opts.db = db

	fmt.Println(opts.Cores, "cores")
	fmt.Println(opts.Clients, "clients")
	fmt.Println(opts.Number, "keys")

	for _, arg := range opts.Positional.Tests {
		switch arg {
		case "insert":
			insert()
		case "update":
			update()
		case "lookup":
			lookup()
		case "delete":
			del()
		}
	}

	stats := opts.db.Stats(opts.ExtendedStats)
	fmt.Println(stats.String())
}

func eachClient(f func(client int, keys []int64)) time.Duration {
	wg := &sync.WaitGroup{}
	wg.Add(opts.Clients)
	numberPer := opts.Number / opts.Clients
	begin := time.Now()
	for i := 0; i < opts.Clients; i++ {
		go func(client int) {
			defer wg.Done()
			lo := numberPer * client
			hi := lo + numberPer
			if client == opts.Clients-1 {
				hi = opts.Number
			}
			opts.db.RegisterThread()
			defer opts.db.DeregisterThread()
			f(client, opts.keyspace[lo:hi])
		}(i)
	}
	wg.Wait()
	return time.Since(begin)
}

func keyBytes(k int64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(k))
	return buf
}

func insert() {
	var aborts int64
	dur := eachClient(func(client int, keys []int64) {
		for _, k := range keys {
			txn, err := opts.db.Begin()
			if err != nil {
				panic(err)
			}
			if err := txn.Insert(keyBytes(k), kvs.EncodeInt64(0)); err != nil {
				panic(err)
			}
			if err := txn.Commit(); err != nil {
				atomic.AddInt64(&aborts, 1)
			}
		}
	})
	fmt.Printf("%s %.0f/s to insert %d keys, %d aborts\n", dur, rate(opts.Number, dur), opts.Number, aborts)
}

func update() {
	var aborts int64
	dur := eachClient(func(client int, keys []int64) {
		for _, k := range keys {
			txn, err := opts.db.Begin()
			if err != nil {
				panic(err)
			}
			if err := txn.Update(keyBytes(k), kvs.EncodeInt64(1)); err != nil {
				panic(err)
			}
			if err := txn.Commit(); err != nil {
				atomic.AddInt64(&aborts, 1)
			}
		}
	})
	fmt.Printf("%s %.0f/s to update %d keys, %d aborts\n", dur, rate(opts.Number, dur), opts.Number, aborts)
}

func lookup() {
	var missing int64
	dur := eachClient(func(client int, keys []int64) {
		for _, k := range keys {
			txn, err := opts.db.Begin()
			if err != nil {
				panic(err)
			}
			_, found, err := txn.Lookup(keyBytes(k))
			if err != nil {
				panic(err)
			}
			if !found {
				atomic.AddInt64(&missing, 1)
			}
			txn.Abort()
		}
	})
	fmt.Printf("%s %.0f/s to lookup %d keys, %d missing\n", dur, rate(opts.Number, dur), opts.Number, missing)
}

func del() {
	var aborts int64
	dur := eachClient(func(client int, keys []int64) {
		for _, k := range keys {
			txn, err := opts.db.Begin()
			if err != nil {
				panic(err)
			}
			if err := txn.Delete(keyBytes(k)); err != nil {
				panic(err)
			}
			if err := txn.Commit(); err != nil {
				atomic.AddInt64(&aborts, 1)
			}
		}
	})
	fmt.Printf("%s %.0f/s to delete %d keys, %d aborts\n", dur, rate(opts.Number, dur), opts.Number, aborts)
}

func rate(n int, dur time.Duration) float64 {
	return float64(n) / (float64(dur) / float64(time.Second))
}
