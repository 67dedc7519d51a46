// Package catalog defines the installable components and their recipes.
// Recipes install into {base}; sources are cached in {packages_cache} and
// built under {build}.
package catalog

import (
	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/internal/core/services"
	"github.com/stackbuild/stackbuild/pkg/utils/keygen"
	"github.com/stackbuild/stackbuild/pkg/utils/shellcmd"
)

var cmd = shellcmd.New

func step(args ...string) services.Step {
	return services.Step{Cmd: cmd(args...)}
}

func in(dir string, s services.Step) services.Step {
	s.Dir = dir
	return s
}

// makeInstall is the usual tail of an autotools build.
func makeInstall(clean bool) []services.Step {
	var steps []services.Step
	if clean {
		steps = append(steps, step("make", "clean"))
	}
	return append(steps, step("make"), step("make", "install"))
}

// New returns the full task registry.
func New() (*services.Registry, error) {
	return services.NewRegistry(Tasks()...)
}

// Tasks returns a fresh copy of every task definition.
func Tasks() []*services.InstallTask {
	return []*services.InstallTask{
		python(),
		cmake(),
		mysql(),
		ruby(),
		imagemagick(),
		curl(),
		apache(),
		sqlite(),
		uwsgi(),
		modwsgi(),
		sqlplus(),
		oracle(),
		nginx(),
		postgresql(),
		gem("rails"),
		gem("bundler"),
		gem("passenger"),
		gemMySQL2(),
		redmine(),
		install(),
	}
}

func python() *services.InstallTask {
	return &services.InstallTask{
		Name:        "python",
		Description: "compile and install python",
		Defaults:    map[string]string{"PYTHON": "2.7.2"},
		Probe:       services.BinaryProbe{Name: "python"},
		Sources: []services.Source{{
			URL: "http://www.python.org/ftp/python/{PYTHON}/Python-{PYTHON}.tgz",
			Dir: "Python-{PYTHON}",
		}},
		Build: append([]services.Step{
			step("./configure", "--prefix={base}", "--enable-shared", "--with-threads"),
		}, makeInstall(true)...),
		PostInstall: []services.Step{
			in("{build}", step("wget", "-q", "-O", "distribute_setup.py", "http://python-distribute.org/distribute_setup.py")),
			in("{build}", step("python", "distribute_setup.py")),
			step("easy_install", "-U", "pip"),
			step("pip", "install", "ipython"),
		},
		Verify: []ports.InstallationProbe{
			services.OutputProbe{
				Command: cmd("python", "-c", "from distutils.sysconfig import get_python_lib; print(get_python_lib())"),
				Expect:  "{base}/",
			},
			services.OutputProbe{
				Command: cmd("python", "-c", "import socket;print socket.ssl"),
				Expect:  "<function ssl at ",
			},
		},
	}
}

func cmake() *services.InstallTask {
	return &services.InstallTask{
		Name:        "cmake",
		Description: "compile and install cmake",
		Defaults:    map[string]string{"CMAKE": "cmake-2.8.11.2"},
		Probe:       services.BinaryProbe{Name: "cmake"},
		Sources: []services.Source{{
			URL: "http://www.cmake.org/files/v2.8/{CMAKE}.tar.gz",
			Dir: "{CMAKE}",
		}},
		Build: append([]services.Step{
			step("./bootstrap",
				"--prefix={base}",
				"--datadir={base}/share/CMake",
				"--docdir={base}/doc/CMake",
				"--mandir={base}/man"),
		}, makeInstall(true)...),
	}
}

func mysql() *services.InstallTask {
	return &services.InstallTask{
		Name:        "mysql",
		Description: "compile and install mysql",
		Requires:    []string{"cmake"},
		Defaults: map[string]string{
			"MYSQL":      "mysql-5.7.2-m12",
			"MYSQL_PORT": "3306",
		},
		Probe: services.BinaryProbe{Name: "mysql"},
		Sources: []services.Source{{
			URL: "http://mysql.mirror.facebook.net/MySQL-5.7/{MYSQL}.tar.gz",
			Dir: "{MYSQL}",
		}},
		Build: append([]services.Step{
			step("mkdir", "-p", "{base}/var/lib", "{base}/tmp"),
			step("cmake",
				"-DCMAKE_INSTALL_PREFIX={base}",
				"-DMYSQL_UNIX_ADDR={base}/tmp/mysql.sock",
				"-DMYSQL_DATADIR={base}/var/lib/mysql",
				"."),
		}, makeInstall(true)...),
		PostInstall: []services.Step{
			{Cmd: cmd("gem", "install", "mysql2"), When: services.BinaryProbe{Name: "ruby"}},
			in("{base}", step("{base}/scripts/mysql_install_db",
				"--user={user}",
				"--force",
				"--basedir={base}",
				"--skip-name-resolve")),
			{Cmd: shellcmd.AppendLine("{base}/my.cnf", "[mysqld]")},
			{Cmd: shellcmd.AppendLine("{base}/my.cnf", "basedir={base}")},
			{Cmd: shellcmd.AppendLine("{base}/my.cnf", "datadir={base}/var/lib/mysql")},
			{Cmd: shellcmd.AppendLine("{base}/my.cnf", "port={MYSQL_PORT}")},
			in("{base}/mysql-test", step("perl", "mysql-test-run.pl")),
		},
	}
}

func ruby() *services.InstallTask {
	return &services.InstallTask{
		Name:        "ruby",
		Description: "compile and install ruby",
		Defaults:    map[string]string{"RUBY": "ruby-2.0.0-p247"},
		Probe:       services.BinaryProbe{Name: "ruby"},
		Sources: []services.Source{{
			URL: "http://cache.ruby-lang.org/pub/ruby/2.0/{RUBY}.tar.gz",
			Dir: "{RUBY}",
		}},
		Build: append([]services.Step{
			step("./configure",
				"--prefix={base}",
				"--exec_prefix={base}",
				"--bindir={base}/bin",
				"--sbindir={base}/bin",
				"--libexecdir={base}/lib/ruby",
				"--mandir={base}/man",
				"--sysconfdir={base}/etc/httpd/conf",
				"--datadir={base}/var/www",
				"--includedir={base}/lib/include/ruby",
				"--localstatedir={base}/var/run"),
		}, makeInstall(true)...),
		PostInstall: []services.Step{
			{Cmd: cmd("gem", "install", "mysql2"), When: services.BinaryProbe{Name: "mysql"}},
		},
	}
}

func imagemagick() *services.InstallTask {
	return &services.InstallTask{
		Name:        "imagemagick",
		Description: "compile and install imagemagick",
		Defaults:    map[string]string{"IMAGEMAGICK": "ImageMagick-6.8.7-0"},
		Probe:       services.BinaryProbe{Name: "animate"},
		Sources: []services.Source{{
			URL: "http://www.imagemagick.org/download/{IMAGEMAGICK}.tar.gz",
			Dir: "{IMAGEMAGICK}",
		}},
		Build: append([]services.Step{
			step("./configure", "--prefix={base}", "--exec_prefix={base}"),
		}, makeInstall(true)...),
	}
}

func curl() *services.InstallTask {
	return &services.InstallTask{
		Name:        "curl",
		Description: "compile and install curl",
		Defaults:    map[string]string{"CURL": "curl-7.32.0"},
		Probe:       services.BinaryProbe{Name: "curl"},
		Sources: []services.Source{{
			URL: "http://curl.haxx.se/download/{CURL}.tar.gz",
			Dir: "{CURL}",
		}},
		Build: append([]services.Step{
			step("./configure", "--prefix={base}", "--exec_prefix={base}"),
		}, makeInstall(true)...),
	}
}

func apache() *services.InstallTask {
	return &services.InstallTask{
		Name:        "apache",
		Description: "compile and install apache",
		Defaults:    map[string]string{"APACHE": "httpd-2.2.25"},
		Probe:       services.BinaryProbe{Name: "apachectl"},
		Sources: []services.Source{{
			URL: "http://archive.apache.org/dist/httpd/{APACHE}.tar.gz",
			Dir: "{APACHE}",
		}},
		Build: append([]services.Step{
			step("mkdir", "-p", "{admin_home_dir}/etc/httpd/conf.d"),
			step("./configure",
				"--prefix={base}",
				"--exec_prefix={base}",
				"--bindir={base}/bin",
				"--sbindir={base}/bin",
				"--libexecdir={base}/lib/apache",
				"--mandir={base}/man",
				"--sysconfdir={base}/etc/httpd/conf",
				"--datadir={base}/var/www",
				"--includedir={base}/lib/include/apache",
				"--localstatedir={base}/var/run",
				"--enable-rewrite",
				"--with-included-apr",
				"--enable-ssl"),
		}, makeInstall(true)...),
	}
}

func sqlite() *services.InstallTask {
	return &services.InstallTask{
		Name:        "sqlite",
		Description: "compile and install sqlite",
		Defaults:    map[string]string{"SQLITE": "sqlite-autoconf-3080002"},
		Probe:       services.BinaryProbe{Name: "sqlite3"},
		Sources: []services.Source{{
			URL: "http://www.sqlite.org/2013/{SQLITE}.tar.gz",
			Dir: "{SQLITE}",
		}},
		Build: append([]services.Step{
			step("./configure",
				"--prefix={base}",
				"--exec_prefix={base}",
				"--bindir={base}/bin",
				"--sbindir={base}/bin"),
		}, makeInstall(false)...),
		PostInstall: []services.Step{
			step("sqlite3", "-version"),
		},
	}
}

func uwsgi() *services.InstallTask {
	return &services.InstallTask{
		Name:        "uwsgi",
		Description: "compile and install uwsgi",
		Defaults:    map[string]string{"UWSGI": "1.9.17"},
		Probe:       services.BinaryProbe{Name: "uwsgi"},
		Sources: []services.Source{{
			URL: "http://projects.unbit.it/downloads/uwsgi-{UWSGI}.tar.gz",
			Dir: "uwsgi-{UWSGI}",
		}},
		Build: []services.Step{
			step("python", "uwsgiconfig.py", "--build"),
			step("cp", "uwsgi", "{base}/bin/uwsgi"),
		},
	}
}

func modwsgi() *services.InstallTask {
	return &services.InstallTask{
		Name:        "modwsgi",
		Description: "compile and install mod_wsgi",
		Requires:    []string{"apache", "python"},
		Defaults:    map[string]string{"MOD_WSGI": "mod_wsgi-3.4"},
		Probe:       services.FileProbe{Path: "{base}/lib/apache/mod_wsgi.so"},
		Sources: []services.Source{{
			URL: "http://modwsgi.googlecode.com/files/{MOD_WSGI}.tar.gz",
			Dir: "{MOD_WSGI}",
		}},
		Build: append([]services.Step{
			step("./configure", "--with-apxs={base}/bin/apxs", "--with-python={base}/bin/python"),
		}, makeInstall(true)...),
	}
}

// sqlplus ships the instant client zip from the operator's tarball dir.
func sqlplus() *services.InstallTask {
	return &services.InstallTask{
		Name:        "sqlplus",
		Description: "install the sqlplus instant client",
		Defaults:    map[string]string{"deps.sqlplus": "instantclient-sqlplus-linux.x64-11.2.0.3.0.zip"},
		Probe:       services.FileProbe{Path: "{admin_home_dir}/bin/sqlplus"},
		Sources: []services.Source{{
			Local: "{tarballs}/{deps.sqlplus}",
			Into:  "{build}/sqlplus",
			Dir:   "instantclient_11_2",
		}},
		Build: []services.Step{
			step("mkdir", "-p", "{admin_home_dir}/oracle/instantclient_11_2", "{admin_home_dir}/bin"),
			step("cp", "-R", ".", "{admin_home_dir}/oracle/instantclient_11_2/"),
			step("mv", "{admin_home_dir}/oracle/instantclient_11_2/sqlplus", "{admin_home_dir}/bin/sqlplus"),
		},
		Verify: []ports.InstallationProbe{
			services.OutputProbe{Command: cmd("sqlplus", "-V"), Expect: "SQL*Plus"},
		},
	}
}

func oracle() *services.InstallTask {
	cxOracle := services.OutputProbe{
		Command: cmd("python", "-c", "import cx_Oracle;print(222)"),
		Expect:  "222",
	}
	return &services.InstallTask{
		Name:        "oracle",
		Description: "install oracle instant client and cx_Oracle",
		Requires:    []string{"python"},
		Defaults:    map[string]string{"ORACLE": "11.2"},
		Probe:       cxOracle,
		Build: []services.Step{
			step("rm", "-rf", "{base}/oracle"),
			step("mkdir", "-p", "{base}/oracle", "{packages_cache}"),
			in("{base}/oracle", step("find", "{packages_cache}", "-name", "instantclient*86-64*", "-exec", "unzip", "-o", "{}", ";")),
			{
				Name:    "locate oracle home",
				Cmd:     cmd("find", "{base}/oracle", "-maxdepth", "1", "-type", "d", "-iname", "instant*"),
				Capture: "oracle_home",
			},
			in("{oracle_home}", step("ln", "-sf", "libclntsh.so.11.1", "libclntsh.so")),
			step("test", "-e", "{oracle_home}/libclntsh.so"),
			step("sed", "-i", "s|export LD_LIBRARY_PATH=.*|export LD_LIBRARY_PATH=$SITE_ENV/lib:{oracle_home}:|", "{admin_home_dir}/.bash_profile"),
			step("sed", "-i", "s|export ORACLE_HOME=.*|export ORACLE_HOME={oracle_home}:|", "{admin_home_dir}/bin/activate"),
			{Cmd: cmd("pip", "install", "cx_Oracle"), Env: map[string]string{"ORACLE_HOME": "{oracle_home}", "LD_LIBRARY_PATH": "{oracle_home}"}},
			step("mkdir", "-p", "{admin_home_dir}/logs/oracle"),
			step("ln", "-sfn", "{admin_home_dir}/logs/oracle", "{oracle_home}/log"),
		},
	}
}

func nginx() *services.InstallTask {
	return &services.InstallTask{
		Name:        "nginx",
		Description: "compile and install nginx",
		Params:      []services.Param{{Key: "NGINX", Optional: true}},
		Defaults: map[string]string{
			"NGINX": "1.5.0",
			"PCRE":  "8.33",
			"UWSGI": "1.9.17",
		},
		Probe: services.BinaryProbe{Name: "nginx"},
		Sources: []services.Source{
			{URL: "http://nginx.org/download/nginx-{NGINX}.tar.gz", Dir: "nginx-{NGINX}"},
			{URL: "ftp://ftp.csx.cam.ac.uk/pub/software/programming/pcre/pcre-{PCRE}.tar.gz", Dir: "pcre-{PCRE}"},
			{URL: "http://projects.unbit.it/downloads/uwsgi-{UWSGI}.tar.gz", Dir: "uwsgi-{UWSGI}"},
		},
		Workdir: "{build}/nginx-{NGINX}",
		Build: []services.Step{
			step("./configure",
				"--prefix={base}",
				"--sbin-path={base}/bin/nginx",
				"--pid-path={base}/run/nginx.pid",
				"--lock-path={base}/run/nginx.lck",
				"--user=nginx",
				"--group={group}",
				"--with-debug",
				"--with-select_module",
				"--with-http_ssl_module",
				"--with-http_gzip_static_module",
				"--with-http_stub_status_module",
				"--with-http_realip_module",
				"--with-http_sub_module",
				"--with-http_addition_module",
				"--with-http_flv_module",
				"--with-file-aio",
				"--with-sha1-asm",
				"--http-proxy-temp-path={base}/tmp/proxy/",
				"--http-client-body-temp-path={base}/tmp/client/",
				"--http-fastcgi-temp-path={base}/tmp/fcgi/",
				"--http-uwsgi-temp-path={base}/tmp/uwsgi/",
				"--http-scgi-temp-path={base}/tmp/scgi/",
				"--http-log-path={base}/logs/nginx/access.log",
				"--error-log-path={base}/logs/nginx/error.log",
				"--with-pcre=../pcre-{PCRE}"),
			step("make"),
			step("make", "install"),
		},
	}
}

func postgresql() *services.InstallTask {
	return &services.InstallTask{
		Name:        "postgresql",
		Description: "compile and install postgresql",
		Defaults:    map[string]string{"POSTGRES": "9.3.1"},
		Probe:       services.BinaryProbe{Name: "psql"},
		Sources: []services.Source{{
			URL: "http://ftp.postgresql.org/pub/source/v{POSTGRES}/postgresql-{POSTGRES}.tar.bz2",
			Dir: "postgresql-{POSTGRES}",
		}},
		Build: append([]services.Step{
			step("./configure", "--prefix={base}"),
		}, makeInstall(false)...),
	}
}

func gem(name string) *services.InstallTask {
	return &services.InstallTask{
		Name:        "gem-" + name,
		Description: "install the " + name + " gem",
		Requires:    []string{"ruby"},
		Probe:       services.GemProbe{Name: name},
		Build:       []services.Step{step("gem", "install", name)},
	}
}

func gemMySQL2() *services.InstallTask {
	t := gem("mysql2")
	t.Requires = []string{"ruby", "mysql"}
	return t
}

func install() *services.InstallTask {
	return &services.InstallTask{
		Name:        "install",
		Description: "install all required servers/appliances",
		Requires:    []string{"python"},
	}
}

// redmine deploys Redmine on the managed Apache with Passenger, backed by
// the managed MySQL.
func redmine() *services.InstallTask {
	return &services.InstallTask{
		Name:        "redmine",
		Description: "install redmine behind apache/passenger",
		Params:      []services.Param{{Key: "MYSQL_PORT"}, {Key: "HTTP_PORT"}},
		Requires: []string{
			"apache", "imagemagick", "ruby", "gem-rails", "gem-bundler", "mysql",
			"gem-passenger", "curl",
		},
		Defaults: map[string]string{
			"REDMINE":             "redmine-2.3.3",
			"http_server_name":    "localhost",
			"redmine_db_password": keygen.GenerateRandomPassword(20),
		},
		Probe: services.OutputProbe{
			Command: cmd("grep", "-q", "PassengerRoot", "{base}/etc/httpd/conf/httpd.conf"),
		},
		Sources: []services.Source{{
			URL:  "http://rubyforge.org/frs/download.php/77138/{REDMINE}.tar.gz",
			Into: "{base}/var/www",
			Dir:  "{REDMINE}",
		}},
		KeepSources: true,
		Build: []services.Step{
			{Name: "start mysqld", Cmd: cmd("mysqld_safe").InBackground(), Dir: "{base}", TolerateFailure: true},
			step("mysqladmin", "-u", "root", "--wait=30", "ping"),
			step("mysql", "-u", "root", "-e", "CREATE DATABASE IF NOT EXISTS redmine CHARACTER SET utf8;"),
			step("mysql", "-u", "root", "-e", "GRANT ALL PRIVILEGES ON redmine.* TO 'redmine'@'localhost' IDENTIFIED BY '{redmine_db_password}';"),
			{Name: "write database.yml", Cmd: shellcmd.WriteFile("config/database.yml", databaseYML)},
			{
				Cmd: cmd("bundle", "install", "--without", "development", "test"),
				Env: map[string]string{"PKG_CONFIG_PATH": "{base}/lib/pkgconfig/"},
			},
			step("rake", "generate_secret_token"),
			{Cmd: cmd("rake", "db:migrate"), Env: map[string]string{"RAILS_ENV": "production"}},
			{
				Cmd: cmd("rake", "redmine:load_default_data"),
				Env: map[string]string{"RAILS_ENV": "production", "REDMINE_LANG": "en"},
			},
			step("passenger-install-apache2-module", "--auto"),
			{Name: "locate passenger", Cmd: cmd("passenger-config", "--root"), Capture: "passenger_root"},
			{Name: "write httpd.conf", Cmd: shellcmd.WriteFile("{base}/etc/httpd/conf/httpd.conf", httpdConf)},
			step("apachectl", "restart"),
		},
	}
}

const databaseYML = `production:
  adapter: mysql2
  database: redmine
  host: localhost
  port: {MYSQL_PORT}
  username: redmine
  password: {redmine_db_password}
`

const httpdConf = `ServerRoot "{base}"
Listen {HTTP_PORT}

ServerAdmin you@example.com
ServerName {http_server_name}:{HTTP_PORT}

DocumentRoot "{base}/var/www/{REDMINE}/public"
<Directory />
    Options FollowSymLinks
    AllowOverride None
    Order deny,allow
    Deny from all
</Directory>
<Directory "{base}/var/www/{REDMINE}/public">
    Options Indexes FollowSymLinks
    AllowOverride None
    Order allow,deny
    Allow from all
</Directory>

<IfModule dir_module>
    DirectoryIndex index.html
</IfModule>

<FilesMatch "^\.ht">
    Order allow,deny
    Deny from all
    Satisfy All
</FilesMatch>

ErrorLog "var/run/logs/error_log"
LogLevel warn

<IfModule log_config_module>
    LogFormat "%h %l %u %t \"%r\" %>s %b \"%{{Referer}}i\" \"%{{User-Agent}}i\"" combined
    LogFormat "%h %l %u %t \"%r\" %>s %b" common
    CustomLog "var/run/logs/access_log" common
</IfModule>

<IfModule alias_module>
    ScriptAlias /cgi-bin/ "{base}/var/www/cgi-bin/"
</IfModule>

<Directory "{base}/var/www/cgi-bin">
    AllowOverride None
    Options None
    Order allow,deny
    Allow from all
</Directory>

DefaultType text/plain

<IfModule mime_module>
    TypesConfig etc/httpd/conf/mime.types
</IfModule>

<IfModule ssl_module>
SSLRandomSeed startup builtin
SSLRandomSeed connect builtin
</IfModule>

LoadModule passenger_module {passenger_root}/buildout/apache2/mod_passenger.so
PassengerRoot {passenger_root}
PassengerDefaultRuby {base}/bin/ruby
`
